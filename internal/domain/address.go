package domain

type Address struct {
	ID         string `json:"id"`
	Name       string `json:"name" validate:"required,notblank"`
	Line1      string `json:"line1" validate:"required,notblank"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required,notblank"`
	PostalCode string `json:"postal_code" validate:"required,notblank"`
	Phone      string `json:"phone" validate:"required,notblank"`
	IsDefault  bool   `json:"is_default"`
}
