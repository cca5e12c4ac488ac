package selectors

import "regexp"

// DefaultVersion tags payloads produced with Default().
const DefaultVersion = "console-2026.3"

// Default returns the markup contract for the current console release.
// Every call returns a fresh copy.
func Default() *Contract {
	return &Contract{
		Version: DefaultVersion,
		Fields: map[Field][]string{
			LoginUsername: {`input[name="username"]`, `input#username`, `input[type="email"]`, `input[name="login"]`},
			LoginPassword: {`input[name="password"]`, `input#password`, `input[type="password"]`},
			LoginSubmit:   {`button[type="submit"]`, `input[type="submit"]`, `#kc-login`},
			LoginError:    {`.alert-error`, `.alert-danger`, `#input-error`, `.kc-feedback-text`, `[role="alert"]`},
			LoginOTP:      {`input[name="otp"]`, `input[autocomplete="one-time-code"]`, `input#totp`},
			AdminChoice:   {`a.login-choice`, `button.login-choice`, `.login-options a`, `a`, `button`},
			AuthenticatedUI: {
				`nav.main-navigation`, `#user-menu`, `[data-testid="user-menu"]`, `a[href*="logout"]`,
			},
			AdminEntry: {`a.admin-entry`, `nav a[href*="admin"]`, `a[href*="admin"]`, `nav a`, `button`},

			ModuleRow:    {`tr[data-module-id]`, `table.modules tbody tr`, `.module-list .module`},
			ModuleName:   {`.module-name`, `td.name`, `td:nth-child(1)`},
			ModulePhone:  {`.module-number`, `td.number`, `td.phone`, `td:nth-child(2)`},
			ModuleActive: {`input[type="checkbox"][name*="active"]`, `.module-status`, `td.status`},
			ModuleLink:   {`a.module-edit`, `a[href*="module"]`, `a[href]`},

			RuleRow:    {`tr.rule-row`, `.rules .rule`, `table.rules tbody tr`},
			RuleLabel:  {`.rule-label`, `td.label`},
			RuleText:   {`.rule-text`, `.rule-condition`, `td.condition`},
			RuleTarget: {`.rule-target`, `td.target`, `td.destination`},
			RuleActive: {`input[type="checkbox"][name*="active"]`, `.rule-status`, `td.status`},
			RuleOrder:  {`.rule-order`, `td.position`, `td.order`},
		},
		AdminChoiceLabel: regexp.MustCompile(`(?i)administrat(or|ion|ive)|admin`),
		AdminEntryLabel:  regexp.MustCompile(`(?i)^\s*(administration|verwaltung|admin(istrator)?(bereich)?)\s*$`),
		AuthProvider: []*regexp.Regexp{
			regexp.MustCompile(`/auth/realms/`),
			regexp.MustCompile(`/protocol/openid-connect/`),
			regexp.MustCompile(`/login(\?|/|$)`),
		},
		AdminDestination: []*regexp.Regexp{
			regexp.MustCompile(`/admin(istration)?(/|\?|#|$)`),
			regexp.MustCompile(`/verwaltung(/|\?|#|$)`),
		},
		AdminPath:     "/administration",
		OverviewPaths: []string{"/administration/modules", "/administration/routing", "/admin/modules"},
	}
}
