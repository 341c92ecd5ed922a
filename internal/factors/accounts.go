package factors

// Canonical account names used in FundamentalRecord.Accounts. The price store
// adapter pivots raw filings onto these keys.
const (
	AccRevenue            = "revenue"
	AccGrossProfit        = "gross_profit"
	AccOperatingProfit    = "operating_profit"
	AccNetIncome          = "net_income"
	AccTotalAssets        = "total_assets"
	AccTotalEquity        = "total_equity"
	AccTotalLiabilities   = "total_liabilities"
	AccCurrentAssets      = "current_assets"
	AccCurrentLiabilities = "current_liabilities"
	AccInventory          = "inventory"
	AccCash               = "cash_and_equivalents"
	AccOperatingCashFlow  = "operating_cash_flow"
	AccCapex              = "capex"
	AccEBITDA             = "ebitda"
	AccInterestExpense    = "interest_expense"
	AccDividendsPaid      = "dividends_paid"
	AccRetainedEarnings   = "retained_earnings"
	AccIntangibleAssets   = "intangible_assets"
)

// AllAccounts lists every account the factor engine may consume; the loader
// requests exactly this set when no mask narrows it down.
var AllAccounts = []string{
	AccRevenue, AccGrossProfit, AccOperatingProfit, AccNetIncome,
	AccTotalAssets, AccTotalEquity, AccTotalLiabilities,
	AccCurrentAssets, AccCurrentLiabilities, AccInventory, AccCash,
	AccOperatingCashFlow, AccCapex, AccEBITDA, AccInterestExpense,
	AccDividendsPaid, AccRetainedEarnings, AccIntangibleAssets,
}
