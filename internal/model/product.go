package model

type Product struct {
	ID                    string         `json:"id"`
	Name                  string         `json:"name"`
	Category              string         `json:"category"`
	Description           string         `json:"description"`
	MinAmount             int64          `json:"minAmount"`
	MaxAmount             int64          `json:"maxAmount"`
	EligibleBusinessTypes []BusinessType `json:"eligibleBusinessTypes"`
}

func (p Product) EligibleFor(bt BusinessType) bool {
	for _, t := range p.EligibleBusinessTypes {
		if t == bt {
			return true
		}
	}
	return false
}
