package contextpack

const promptTemplate = `# {{.Item.Title}}

- Item: {{.Item.ID}} ({{.Item.Kind}}, priority {{.Item.Priority}})
- Phase: {{.Phase}}, attempt {{.Attempt}}
{{- if .Branch}}
- Branch: {{.Branch}}{{if .BaseBranch}} (base {{.BaseBranch}}){{end}}
{{- end}}
{{- if .Item.Labels}}
- Labels: {{range $i, $l := .Item.Labels}}{{if $i}}, {{end}}{{$l}}{{end}}
{{- end}}

## Task
{{if .Item.Description}}{{.Item.Description}}{{else}}(no description){{end}}
{{if .Epic}}
## Plan ({{.Epic.ID}}: {{.Epic.Title}})
{{if .Epic.Description}}{{.Epic.Description}}{{else}}(no plan text){{end}}
{{end}}
{{- if .ShowParent}}
## Parent ({{.Parent.ID}}: {{.Parent.Title}})
{{.Parent.Description}}
{{end}}
{{- if .Deps}}
## Completed dependencies
{{range .Deps}}
### {{.ID}}: {{.Title}}
{{- if .CloseReason}}
Close reason: {{.CloseReason}}
{{- end}}
{{- if .Summary}}
Summary:
{{indent "  " .Summary}}
{{- end}}
{{end}}
{{- end}}
{{- if .Feedback}}
## Feedback from the previous attempt
{{.Feedback}}
{{end}}
{{- if eq .Phase "review"}}
## Changes to review
{{if .Diff}}` + "```diff" + `
{{.Diff}}
` + "```" + `{{if .Truncated}}
(diff truncated){{end}}{{else}}(empty diff){{end}}
{{if .TestOutput}}
## Test output
` + "```" + `
{{.TestOutput}}
` + "```" + `
{{end}}
## Result
Write a JSON object to {{.ResultPath}} with "status" set to "approved" or "rejected",
a "summary", and optional "issues".
{{- else}}
## Result
Write a JSON object to {{.ResultPath}} with "status" set to "success" or "failure",
a "summary" of what changed, and optional "issues".
{{- end}}
`
