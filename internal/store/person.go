package store

// Person is the canonical student entity created, updated, and deleted
// as the committed effect of completed submissions. The store is
// schema-flexible; uniqueness of email is enforced by the duplicate
// detector before any create-path commit, not by an index constraint.
type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Gender    string `json:"gender,omitempty"`
	Phone     string `json:"phone,omitempty"`
	DOB       string `json:"dob,omitempty"`
	Address   string `json:"address,omitempty"`
	CreatedMs int64  `json:"created_ms"`
	UpdatedMs int64  `json:"updated_ms,omitempty"`
}

// ApplyFields overlays validated payload fields onto the person.
// Unknown fields are ignored; empty values were already pruned by the
// validator, so an absent key never clears an existing value.
func (p *Person) ApplyFields(fields map[string]string) {
	for k, v := range fields {
		switch k {
		case "name":
			p.Name = v
		case "email":
			p.Email = v
		case "gender":
			p.Gender = v
		case "phone":
			p.Phone = v
		case "dob":
			p.DOB = v
		case "address":
			p.Address = v
		}
	}
}
