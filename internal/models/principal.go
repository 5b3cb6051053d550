package models

// Principal is an identity attested by the trusted reverse proxy.
type Principal struct {
	ID       string
	Name     string
	Provider string
	Groups   []string
}

func (p *Principal) HasGroup(groupID string) bool {
	if groupID == "" {
		return false
	}
	for _, g := range p.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}
