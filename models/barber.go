package models

// Barber is a member of the shop's static roster.
type Barber struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Title  string `json:"title"`
	Active bool   `json:"active"`
}

// Roster is the shop's barbers. Members store the barber's display name.
var Roster = []Barber{
	{ID: "CharlesArmon", Name: "Charles Armon", Title: "Master Barber", Active: true},
	{ID: "JaylenLiedke", Name: "Jaylen Liedke", Title: "Barber"},
	{ID: "TylerRogers", Name: "Tyler Rogers", Title: "Apprentice Barber"},
}

// IsRosterBarber reports whether name belongs to an active barber.
func IsRosterBarber(name string) bool {
	for _, b := range Roster {
		if b.Active && b.Name == name {
			return true
		}
	}
	return false
}

// ActiveBarbers returns the barbers members can currently pick.
func ActiveBarbers() []Barber {
	var out []Barber
	for _, b := range Roster {
		if b.Active {
			out = append(out, b)
		}
	}
	return out
}
