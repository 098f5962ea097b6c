package models

// ── Shared vocabularies ──

// Level is a three-step low/moderate/high scale.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
)

// Trend describes the direction of a metric over recent periods.
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Strength is a strong/adequate/weak scale used for cash and revenue.
type Strength string

const (
	StrengthStrong   Strength = "strong"
	StrengthAdequate Strength = "adequate"
	StrengthWeak     Strength = "weak"
)

// ════════════════════════════════════════════════════════════════════
// Fundamental stream (10-K)
// ════════════════════════════════════════════════════════════════════

// RiskAssessment is extracted from the risk factors section of an annual filing.
type RiskAssessment struct {
	MainRisks                []string `json:"main_risks"`
	RiskCategories           string   `json:"risk_categories"`
	EmergingRisks            []string `json:"emerging_risks"`
	RiskProfile              Level    `json:"risk_profile" jsonschema:"enum=low,enum=moderate,enum=high"`
	AllocationRecommendation string   `json:"allocation_recommendation" jsonschema:"enum=conservative,enum=moderate,enum=aggressive"`
	RiskScore                float64  `json:"risk_score" validate:"gte=0,lte=10"`
}

// BusinessAnalysis is extracted from the business overview section.
type BusinessAnalysis struct {
	BusinessModel         string   `json:"business_model"`
	RevenueStreams        []string `json:"revenue_streams"`
	CompetitiveAdvantages []string `json:"competitive_advantages"`
	MarketPosition        string   `json:"market_position" jsonschema:"enum=leader,enum=challenger,enum=niche,enum=follower"`
	BusinessStability     string   `json:"business_stability" jsonschema:"enum=stable,enum=growth,enum=volatile"`
}

// FinancialMetrics is extracted from the financial statements.
type FinancialMetrics struct {
	RevenueTrend          string   `json:"revenue_trend" jsonschema:"enum=growing,enum=stable,enum=declining"`
	ProfitabilityHealth   string   `json:"profitability_health" jsonschema:"enum=healthy,enum=moderate,enum=concerning"`
	DebtLevel             Level    `json:"debt_level" jsonschema:"enum=low,enum=moderate,enum=high"`
	CashPosition          Strength `json:"cash_position" jsonschema:"enum=strong,enum=adequate,enum=weak"`
	FinancialQualityScore float64  `json:"financial_quality_score" validate:"gte=0,lte=10"`
	KeyMetrics            string   `json:"key_metrics"`
}

// ManagementInsights is extracted from management's discussion and analysis.
type ManagementInsights struct {
	ManagementOutlook      string   `json:"management_outlook" jsonschema:"enum=optimistic,enum=neutral,enum=pessimistic"`
	StrategicInitiatives   []string `json:"strategic_initiatives"`
	ChallengesAcknowledged []string `json:"challenges_acknowledged"`
	GuidanceQuality        string   `json:"guidance_quality" jsonschema:"enum=clear,enum=vague,enum=absent"`
	ManagementCredibility  string   `json:"management_credibility" jsonschema:"enum=high,enum=medium,enum=low"`
}

// FundamentalAnalysis consolidates the four fundamental sections.
type FundamentalAnalysis struct {
	OverallInvestmentThesis string   `json:"overall_investment_thesis"`
	InvestmentGrade         string   `json:"investment_grade" jsonschema:"enum=A,enum=B,enum=C,enum=D"`
	ConfidenceScore         float64  `json:"confidence_score" validate:"gte=0,lte=1"`
	KeyStrengths            []string `json:"key_strengths"`
	KeyConcerns             []string `json:"key_concerns"`
	Recommendation          string   `json:"recommendation" jsonschema:"enum=buy,enum=hold,enum=sell,enum=avoid"`
}

// ════════════════════════════════════════════════════════════════════
// Momentum stream (10-Q)
// ════════════════════════════════════════════════════════════════════

// OperationalUpdate captures recent operational changes from a quarterly filing.
type OperationalUpdate struct {
	OperationalChanges  []string `json:"operational_changes"`
	NewDevelopments     []string `json:"new_developments"`
	ExpansionActivities []string `json:"expansion_activities"`
	OperationalMomentum string   `json:"operational_momentum" jsonschema:"enum=accelerating,enum=stable,enum=decelerating"`
	OperationalScore    float64  `json:"operational_score" validate:"gte=0,lte=10"`
}

// QuarterlyPerformance captures the quarter's financial results.
type QuarterlyPerformance struct {
	RevenuePerformance Strength `json:"revenue_performance" jsonschema:"enum=strong,enum=adequate,enum=weak"`
	MarginTrends       Trend    `json:"margin_trends" jsonschema:"enum=improving,enum=stable,enum=declining"`
	LiquidityPosition  string   `json:"liquidity_position" jsonschema:"enum=strong,enum=adequate,enum=concerning"`
	CostManagement     string   `json:"cost_management" jsonschema:"enum=effective,enum=moderate,enum=poor"`
	FinancialMomentum  string   `json:"financial_momentum" jsonschema:"enum=positive,enum=neutral,enum=negative"`
	PerformanceScore   float64  `json:"performance_score" validate:"gte=0,lte=10"`
}

// ShortTermRisks captures risks that surfaced in the latest quarter.
type ShortTermRisks struct {
	EmergingRisks     []string `json:"emerging_risks"`
	RiskIntensity     string   `json:"risk_intensity" jsonschema:"enum=increasing,enum=stable,enum=decreasing"`
	ImmediateConcerns []string `json:"immediate_concerns"`
	RiskMitigation    string   `json:"risk_mitigation" jsonschema:"enum=strong,enum=moderate,enum=weak"`
	RiskOutlook       string   `json:"risk_outlook" jsonschema:"enum=improving,enum=stable,enum=deteriorating"`
	RiskScore         float64  `json:"risk_score" validate:"gte=0,lte=10"`
}

// MomentumAnalysis consolidates the three momentum sections.
type MomentumAnalysis struct {
	OverallMomentum    string   `json:"overall_momentum" jsonschema:"enum=positive,enum=neutral,enum=negative"`
	MomentumStrength   string   `json:"momentum_strength" jsonschema:"enum=strong,enum=moderate,enum=weak"`
	KeyMomentumDrivers []string `json:"key_momentum_drivers"`
	MomentumRisks      []string `json:"momentum_risks"`
	ShortTermOutlook   string   `json:"short_term_outlook" jsonschema:"enum=bullish,enum=neutral,enum=bearish"`
	MomentumScore      float64  `json:"momentum_score" validate:"gte=0,lte=10"`
}

// ════════════════════════════════════════════════════════════════════
// Sentiment stream (news)
// ════════════════════════════════════════════════════════════════════

// MarketSentiment is both the news section schema and the sentiment stream result.
type MarketSentiment struct {
	SentimentScore     float64  `json:"sentiment_score" validate:"gte=1,lte=10"`
	SentimentDirection string   `json:"sentiment_direction" jsonschema:"enum=Positive,enum=Neutral,enum=Negative"`
	KeyNewsThemes      []string `json:"key_news_themes"`
	RecentCatalysts    []string `json:"recent_catalysts"`
	MarketOutlook      string   `json:"market_outlook"`
}

// ════════════════════════════════════════════════════════════════════
// Aggregation
// ════════════════════════════════════════════════════════════════════

// Action is the final trading decision.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionHold Action = "HOLD"
	ActionSell Action = "SELL"
)

// FinalRecommendation merges all three stream results into one decision.
type FinalRecommendation struct {
	Action           Action   `json:"action" jsonschema:"enum=BUY,enum=HOLD,enum=SELL"`
	Confidence       float64  `json:"confidence" validate:"gte=0,lte=1"`
	Rationale        string   `json:"rationale"`
	KeyRisks         []string `json:"key_risks"`
	KeyOpportunities []string `json:"key_opportunities"`
	TimeHorizon      string   `json:"time_horizon" jsonschema:"enum=Short-term,enum=Medium-term,enum=Long-term"`
}

// TickerExtraction is the model's answer when the company lookup table misses.
// Ticker is null (or the literal NONE) when no symbol could be identified.
type TickerExtraction struct {
	Ticker    *string `json:"ticker" jsonschema:"nullable"`
	Reasoning string  `json:"reasoning"`
}
