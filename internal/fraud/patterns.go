package fraud

// Category groups indicator patterns by the kind of fraud they signal.
// Weights are calibrated by category severity: identity and financial
// patterns carry the highest weights, urgency and prize the lowest.
type Category string

const (
	CategoryFinancial     Category = "financial"
	CategoryIdentity      Category = "identity"
	CategoryVerification  Category = "verification"
	CategoryUrgency       Category = "urgency"
	CategoryImpersonation Category = "impersonation"
	CategoryTechScam      Category = "tech_scam"
	CategoryPrizeScam     Category = "prize_scam"
	CategoryRomance       Category = "romance"
	CategoryInvestment    Category = "investment"
	CategoryCharity       Category = "charity"
	CategorySecurity      Category = "security"
	CategoryThreat        Category = "threat"
)

// Pattern is a single fraud indicator. Regex patterns are matched
// case-insensitively; literal patterns by lower-cased substring containment.
// Patterns are immutable once loaded into a Matcher.
type Pattern struct {
	Pattern     string   `json:"pattern"`
	IsRegex     bool     `json:"isRegex"`
	Weight      float64  `json:"weight"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// DefaultPatterns returns the built-in indicator catalog. Weights are fixed
// design constants, not learned.
func DefaultPatterns() []Pattern {
	return []Pattern{
		// Financial scams
		{`\b(transfer|send)\s+(money|cash|funds)`, true, 2.0, CategoryFinancial, "Money transfer request"},
		{`\b(bank|account)\s+(details|information|number)`, true, 1.8, CategoryFinancial, "Bank account information request"},
		{`\b(credit\s+card|debit\s+card)\s+(number|details)`, true, 2.2, CategoryFinancial, "Credit card information request"},
		{`\b(social\s+security|ssn)\s+(number)?`, true, 2.5, CategoryIdentity, "SSN request"},
		{`\b(routing\s+number|account\s+number)`, true, 2.0, CategoryFinancial, "Banking details request"},

		// Verification scams
		{`\b(verify|confirm)\s+(your|account|identity)`, true, 1.5, CategoryVerification, "Identity verification request"},
		{`\b(otp|one\s+time\s+password|verification\s+code)`, true, 2.1, CategoryVerification, "OTP/verification code request"},
		{`\b(enter|provide|give)\s+(code|password|pin)`, true, 1.9, CategoryVerification, "Security code request"},
		{`\b(two\s+factor|2fa|multi\s+factor)\s+authentication`, true, 1.7, CategoryVerification, "2FA bypass attempt"},

		// Urgency tactics
		{`\b(urgent|emergency|immediate|expires?\s+(today|soon))`, true, 1.3, CategoryUrgency, "Urgency pressure tactic"},
		{`\b(act\s+now|limited\s+time|hurry|quickly)`, true, 1.2, CategoryUrgency, "Time pressure tactic"},
		{`\b(suspended|frozen|blocked|closed)\s+(account|card)`, true, 1.6, CategoryUrgency, "Account threat"},

		// Authority impersonation
		{`\b(irs|internal\s+revenue|tax\s+department)`, true, 2.0, CategoryImpersonation, "IRS impersonation"},
		{`\b(fbi|police|law\s+enforcement|detective)`, true, 2.2, CategoryImpersonation, "Law enforcement impersonation"},
		{`\b(microsoft|apple|google|amazon)\s+(support|security)`, true, 1.8, CategoryImpersonation, "Tech company impersonation"},
		{`\b(bank|financial\s+institution)\s+(representative|agent)`, true, 1.7, CategoryImpersonation, "Bank impersonation"},

		// Tech support scams
		{`\b(virus|malware|infected|hacked)\s+(computer|device)`, true, 1.9, CategoryTechScam, "Fake virus/malware alert"},
		{`\b(remote\s+access|team\s+viewer|screen\s+share)`, true, 2.3, CategoryTechScam, "Remote access request"},
		{`\b(windows\s+key|run\s+command|cmd|registry)`, true, 2.0, CategoryTechScam, "System access instruction"},

		// Prize/lottery scams
		{`\b(congratulations|winner|won|lottery|prize)`, true, 1.4, CategoryPrizeScam, "Prize/lottery scam"},
		{`\b(claim|collect)\s+(prize|winnings|money)`, true, 1.6, CategoryPrizeScam, "Prize claim request"},

		// Romance/relationship scams
		{`\b(love|relationship|marry|marriage)\s+.*(money|help|emergency)`, true, 1.8, CategoryRomance, "Romance scam indicator"},
		{`\b(deployed|military|overseas)\s+.*(money|funds|help)`, true, 1.9, CategoryRomance, "Military romance scam"},

		// Investment scams
		{`\b(investment|crypto|bitcoin|trading)\s+(opportunity|guaranteed)`, true, 1.7, CategoryInvestment, "Investment scam"},
		{`\b(high\s+returns|guaranteed\s+profit|double\s+your\s+money)`, true, 2.0, CategoryInvestment, "Unrealistic returns promise"},

		// Charity scams
		{`\b(donation|charity|disaster\s+relief)\s+.*(urgent|help|emergency)`, true, 1.5, CategoryCharity, "Charity scam"},

		// Plain keyword indicators. These deliberately overlap the regex
		// patterns above: a text matching both counts both, because stacked
		// related indicators mean more risk than one alone.
		{"transfer", false, 1.2, CategoryFinancial, "Money transfer keyword"},
		{"bank", false, 1.0, CategoryFinancial, "Banking keyword"},
		{"account", false, 1.0, CategoryFinancial, "Account keyword"},
		{"otp", false, 1.8, CategoryVerification, "OTP keyword"},
		{"code", false, 1.1, CategoryVerification, "Code keyword"},
		{"verify", false, 1.3, CategoryVerification, "Verification keyword"},
		{"password", false, 1.5, CategorySecurity, "Password keyword"},
		{"ssn", false, 2.0, CategoryIdentity, "SSN keyword"},
		{"social security", false, 2.2, CategoryIdentity, "Social Security keyword"},
		{"urgent", false, 1.2, CategoryUrgency, "Urgency keyword"},
		{"immediate", false, 1.3, CategoryUrgency, "Immediate action keyword"},
		{"suspended", false, 1.4, CategoryThreat, "Account suspension threat"},
		{"frozen", false, 1.4, CategoryThreat, "Account frozen threat"},
	}
}
