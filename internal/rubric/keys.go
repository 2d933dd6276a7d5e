// Package rubric holds the static scoring rubric catalog and the resolver
// that maps inconsistent incoming question identifiers onto canonical keys.
package rubric

// Key is the canonical identifier of one evaluation rubric.
// Keys are a closed set checked at catalog load; a raw question id that
// matches none of them resolves to "no rubric" and the question is skipped.
type Key string

const (
	KeyProblem              Key = "problem"
	KeySolution             Key = "solution"
	KeyMarketSize           Key = "market_size"
	KeyWhyYou               Key = "why_you"
	KeyTraction             Key = "traction"
	KeyTractionEarlyRevenue Key = "traction_early_revenue"
	KeyCompetition          Key = "competition"
	KeyVision               Key = "vision"
	KeyUseOfFunds           Key = "use_of_funds"
)

// canonicalKeys is the full key set the catalog must provide rubrics for.
var canonicalKeys = []Key{
	KeyProblem,
	KeySolution,
	KeyMarketSize,
	KeyWhyYou,
	KeyTraction,
	KeyTractionEarlyRevenue,
	KeyCompetition,
	KeyVision,
	KeyUseOfFunds,
}

// aliases maps legacy and convention-variant question ids onto base keys.
// Many-to-one; stage substitution happens after alias resolution.
var aliases = map[string]Key{
	// problem
	"problem_statement": KeyProblem,
	"problemstatement":  KeyProblem,
	"the_problem":       KeyProblem,
	"q_problem":         KeyProblem,
	// solution
	"solution_description": KeySolution,
	"solutiondescription":  KeySolution,
	"your_solution":        KeySolution,
	"product":              KeySolution,
	// market size
	"market":             KeyMarketSize,
	"marketsize":         KeyMarketSize,
	"market_opportunity": KeyMarketSize,
	"tam":                KeyMarketSize,
	// founder fit
	"whyyou":      KeyWhyYou,
	"founder_fit": KeyWhyYou,
	"team":        KeyWhyYou,
	"about_team":  KeyWhyYou,
	// traction; early_revenue applicants get the stage variant substituted
	"traction_to_date": KeyTraction,
	"paying_customers": KeyTraction,
	"payingcustomers":  KeyTraction,
	"customers":        KeyTraction,
	"revenue_traction": KeyTraction,
	// competition
	"competitors":           KeyCompetition,
	"competitive_landscape": KeyCompetition,
	// vision
	"five_year_vision": KeyVision,
	"longtermvision":   KeyVision,
	"long_term_vision": KeyVision,
	// use of funds
	"useoffunds": KeyUseOfFunds,
	"fund_usage": KeyUseOfFunds,
	"grant_use":  KeyUseOfFunds,
}

// textKeys maps normalized question label text onto keys. Last resolution
// tier, used when an id matches neither the canonical set nor an alias.
var textKeys = map[string]Key{
	"what_problem_are_you_solving":               KeyProblem,
	"describe_the_problem":                       KeyProblem,
	"what_is_your_solution":                      KeySolution,
	"how_does_your_solution_work":                KeySolution,
	"how_big_is_the_market":                      KeyMarketSize,
	"what_is_your_market_size":                   KeyMarketSize,
	"why_are_you_the_right_person_to_build_this": KeyWhyYou,
	"tell_us_about_your_team":                    KeyWhyYou,
	"what_traction_do_you_have":                  KeyTraction,
	"how_many_paying_customers_do_you_have":      KeyTraction,
	"who_are_your_competitors":                   KeyCompetition,
	"where_do_you_see_this_in_five_years":        KeyVision,
	"what_is_your_long_term_vision":              KeyVision,
	"how_will_you_use_the_grant":                 KeyUseOfFunds,
	"how_will_you_use_the_funds":                 KeyUseOfFunds,
}

// stageVariants substitutes a stage-specific rubric for early_revenue
// applicants when one exists for the resolved base key.
var stageVariants = map[Key]Key{
	KeyTraction: KeyTractionEarlyRevenue,
}
