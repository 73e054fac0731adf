package carrier

import "github.com/sells-group/carrier-scraper/internal/model"

// Builtins returns the carriers known without a carriers file. Credentials
// and profile IDs are environment references resolved by Load.
func Builtins() []Carrier {
	return []Carrier{
		{
			Name: "GTL",
			Config: model.ScraperConfig{
				Carrier:             "GTL",
				LoginURL:            "https://agent.gtlic.com/login",
				PortalURL:           "https://agent.gtlic.com/pending-business",
				Username:            "${GTL_USERNAME}",
				Password:            "${GTL_PASSWORD}",
				UsernameSelector:    "#username",
				PasswordSelector:    "#password",
				LoginButtonSelector: "button[type=submit]",
				PolicyTableSelector: "table.policy-list",
				PolicyRowSelector:   "tbody tr",
				NextPageSelector:    "a.pagination-next",
				MaxPages:            50,
				RateLimitMs:         2000,
				LoginMode:           model.LoginManual,
				ProfileID:           "${GTL_PROFILE_ID}",
			},
			Categories: map[string]Category{
				"application_received": {Priority: PriorityLow},
				"pending_requirements": {Priority: PriorityHigh, ActionRequired: true},
				"approved":             {Priority: PriorityMedium},
				"declined":             {Priority: PriorityHigh, ActionRequired: true},
				"policy_issued":        {Priority: PriorityMedium},
				"payment_due":          {Priority: PriorityHigh, ActionRequired: true},
			},
		},
		{
			Name: "AETNA",
			Config: model.ScraperConfig{
				Carrier:             "AETNA",
				LoginURL:            "https://www.aetnaseniorproducts.com/agent/login",
				PortalURL:           "https://www.aetnaseniorproducts.com/agent/book-of-business",
				Username:            "${AETNA_USERNAME}",
				Password:            "${AETNA_PASSWORD}",
				UsernameSelector:    "input[name=userId]",
				PasswordSelector:    "input[name=password]",
				LoginButtonSelector: "#loginButton",
				PolicyTableSelector: "#bookOfBusiness table",
				PolicyRowSelector:   "tbody tr.data-row",
				NextPageSelector:    "button[aria-label='Next page']",
				MaxPages:            100,
				RateLimitMs:         3000,
				LoginMode:           model.LoginManual,
				ProfileID:           "${AETNA_PROFILE_ID}",
			},
			Categories: map[string]Category{
				"new_business":    {Priority: PriorityLow},
				"outstanding_req": {Priority: PriorityHigh, ActionRequired: true},
				"issued":          {Priority: PriorityMedium},
				"lapse_pending":   {Priority: PriorityHigh, ActionRequired: true},
				"commission":      {Priority: PriorityLow},
			},
		},
		{
			Name: "SBLI",
			Config: model.ScraperConfig{
				Carrier:             "SBLI",
				LoginURL:            "https://agents.sbli.com/login",
				PortalURL:           "https://agents.sbli.com/cases",
				Username:            "${SBLI_USERNAME}",
				Password:            "${SBLI_PASSWORD}",
				UsernameSelector:    "#email",
				PasswordSelector:    "#password",
				LoginButtonSelector: "button.login",
				PolicyTableSelector: "table#cases",
				PolicyRowSelector:   "tbody tr",
				RateLimitMs:         2000,
				LoginMode:           model.LoginAutomatic,
				ProfileID:           "${SBLI_PROFILE_ID}",
			},
			Categories: map[string]Category{
				"case_submitted":   {Priority: PriorityLow},
				"underwriting_req": {Priority: PriorityHigh, ActionRequired: true},
				"approved":         {Priority: PriorityMedium},
				"policy_delivered": {Priority: PriorityLow},
			},
		},
	}
}
