package machine

// Recipe defines the tick count of each brewing phase for a coffee type.
type Recipe struct {
	Name        string
	GrindTicks  int
	PressTicks  int
	MoistTicks  int
	BrewTicks   int // per cup
	ReturnTicks int
}

// Menu is the set of coffee types the machine can brew, keyed by name.
type Menu map[string]Recipe

// DefaultMenu returns the built-in coffee types.
func DefaultMenu() Menu {
	return Menu{
		"Normal":   {Name: "Normal", GrindTicks: 6, PressTicks: 5, MoistTicks: 2, BrewTicks: 14, ReturnTicks: 4},
		"Espresso": {Name: "Espresso", GrindTicks: 6, PressTicks: 5, MoistTicks: 2, BrewTicks: 10, ReturnTicks: 4},
	}
}

// Lookup returns the recipe with the given name.
func (m Menu) Lookup(name string) (Recipe, bool) {
	r, ok := m[name]
	return r, ok
}

// Amounts lists the supported cup counts per brew.
var Amounts = []int{1, 2}

// ValidAmount reports whether n is a supported cup count.
func ValidAmount(n int) bool {
	for _, a := range Amounts {
		if a == n {
			return true
		}
	}
	return false
}

// TotalTicks returns the number of ticks a brew of amount cups takes.
func (r Recipe) TotalTicks(amount int) int {
	return r.GrindTicks + r.PressTicks + r.MoistTicks + r.BrewTicks*amount + r.ReturnTicks
}
