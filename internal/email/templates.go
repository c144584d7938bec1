package email

import texttemplate "text/template"

func textTemplate(tmpl string) *texttemplate.Template {
	return texttemplate.Must(texttemplate.New("email-text").Parse(tmpl))
}

const emailStyle = `
        body { font-family: system-ui, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { color: white; padding: 20px; border-radius: 8px 8px 0 0; }
        .content { background: #f8fafc; padding: 20px; border-radius: 0 0 8px 8px; }
        .button { display: inline-block; background: #3b82f6; color: white; padding: 12px 24px; text-decoration: none; border-radius: 6px; margin-top: 20px; }`

const submissionReceivedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="container">
        <div class="header" style="background: #3b82f6;">
            <h1>Thank You for Your Submission!</h1>
        </div>
        <div class="content">
            <p>Hi {{.Name}},</p>
            <p>We've received your tool submission and our team will review it shortly. You'll receive another email once we've reviewed your submission.</p>
            <p>If you have any questions, feel free to reach out to us.</p>
            <p>Best regards,<br>The {{.AppName}} Team</p>
        </div>
    </div>
</body>
</html>`

const submissionReceivedText = `Hi {{.Name}},

We've received your tool submission and our team will review it shortly. You'll receive another email once we've reviewed your submission.

Best regards,
The {{.AppName}} Team`

const submissionApprovedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="container">
        <div class="header" style="background: #10b981;">
            <h1>Your Tool Has Been Approved!</h1>
        </div>
        <div class="content">
            <p>Hi {{.Name}},</p>
            <p>Great news! Your tool <strong>{{.ToolName}}</strong> has been approved and is now live on our directory.</p>
            <p><a href="{{.ToolURL}}" class="button">View Your Tool</a></p>
            <p>Thank you for contributing to {{.AppName}}!</p>
            <p>Best regards,<br>The {{.AppName}} Team</p>
        </div>
    </div>
</body>
</html>`

const submissionApprovedText = `Hi {{.Name}},

Great news! Your tool {{.ToolName}} has been approved and is now live on our directory.

View it here: {{.ToolURL}}

Thank you for contributing!

Best regards,
The {{.AppName}} Team`

const submissionRejectedTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="container">
        <div class="header" style="background: #ef4444;">
            <h1>Tool Submission Update</h1>
        </div>
        <div class="content">
            <p>Hi {{.Name}},</p>
            <p>We've reviewed your submission for <strong>{{.ToolName}}</strong>, but unfortunately we're unable to approve it at this time.</p>
            {{if .Reason}}<p><strong>Reason:</strong> {{.Reason}}</p>{{end}}
            <p>If you'd like to resubmit with changes, please feel free to do so.</p>
            <p>Best regards,<br>The {{.AppName}} Team</p>
        </div>
    </div>
</body>
</html>`

const submissionRejectedText = `Hi {{.Name}},

We've reviewed your submission for {{.ToolName}}, but unfortunately we're unable to approve it at this time.{{if .Reason}}

Reason: {{.Reason}}{{end}}

If you'd like to resubmit with changes, please feel free to do so.

Best regards,
The {{.AppName}} Team`

const adminNotificationTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>` + emailStyle + `</style>
</head>
<body>
    <div class="container">
        <div class="header" style="background: #3b82f6;">
            <h1>New Tool Submission</h1>
        </div>
        <div class="content">
            <p>A new tool submission requires your review:</p>
            <p><strong>{{.ToolName}}</strong></p>
            <p><a href="{{.AdminURL}}" class="button">Review Submission</a></p>
        </div>
    </div>
</body>
</html>`

const adminNotificationText = `A new tool submission requires your review:

{{.ToolName}}

Review it here: {{.AdminURL}}`
