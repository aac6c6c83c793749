package codex

// loginSuccessHTML is served on /success after the callback is captured.
const loginSuccessHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Login complete</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; background: #f6f7f9; color: #1f2328; display: flex; align-items: center; justify-content: center; height: 100vh; margin: 0; }
.card { background: #fff; border-radius: 12px; padding: 32px 40px; box-shadow: 0 4px 24px rgba(0,0,0,.08); text-align: center; max-width: 420px; }
h1 { font-size: 20px; margin: 0 0 12px; }
p { margin: 0; color: #57606a; }
</style>
</head>
<body>
<div class="card">
<h1>You are signed in</h1>
<p>The bridge received your authorization. You can close this window and return to the terminal.</p>
</div>
<script>setTimeout(function () { window.close(); }, 3000);</script>
</body>
</html>`

// loginFailureHTML is served when the authorization server reports an error.
// {{ERROR}} is replaced with the escaped error code.
const loginFailureHTML = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>Login failed</title></head>
<body style="font-family: sans-serif; padding: 40px;">
<h1>Login failed</h1>
<p>{{ERROR}}</p>
<p>Return to the terminal and start the login again.</p>
</body>
</html>`
