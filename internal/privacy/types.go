package privacy

import "regexp"

// Category identifies a class of personally identifiable information
type Category string

const (
	CategoryPhone      Category = "PHONE"
	CategoryEmail      Category = "EMAIL"
	CategoryCreditCard Category = "CREDIT_CARD"
	CategorySSN        Category = "SSN"
	CategoryAddress    Category = "ADDRESS"
	CategoryDOB        Category = "DOB"
	CategoryZipCode    Category = "ZIP_CODE"
)

// Rule is a single PII detection rule: what to match and what to put in its place
type Rule struct {
	Category Category
	Pattern  *regexp.Regexp
	Mask     func(match string) string
}

// Detection describes one span replaced during a Mask call.
// Position and Length are byte offsets into the text as it stood before the
// rule that produced the detection was applied.
type Detection struct {
	Type     Category `json:"type"`
	Original string   `json:"original"`
	Position int      `json:"position"`
	Length   int      `json:"length"`
}

// MaskingConfig toggles each rule. The zero value disables everything; use
// DefaultMaskingConfig for the all-enabled default.
type MaskingConfig struct {
	EnablePhoneMasking      bool `json:"enablePhoneMasking" mapstructure:"enable_phone_masking"`
	EnableEmailMasking      bool `json:"enableEmailMasking" mapstructure:"enable_email_masking"`
	EnableCreditCardMasking bool `json:"enableCreditCardMasking" mapstructure:"enable_credit_card_masking"`
	EnableSSNMasking        bool `json:"enableSSNMasking" mapstructure:"enable_ssn_masking"`
	EnableAddressMasking    bool `json:"enableAddressMasking" mapstructure:"enable_address_masking"`
	EnableDOBMasking        bool `json:"enableDOBMasking" mapstructure:"enable_dob_masking"`
	EnableZipCodeMasking    bool `json:"enableZipCodeMasking" mapstructure:"enable_zip_code_masking"`
}

// MaskResult contains the result of masking text
type MaskResult struct {
	MaskedText string      `json:"maskedText"`
	Detections []Detection `json:"detectedPII"`
	HasPII     bool        `json:"hasPII"`
}

// DetectResult reports which categories appear in a text
type DetectResult struct {
	HasPII        bool       `json:"hasPII"`
	DetectedTypes []Category `json:"detectedTypes"`
}

// Stats tallies detections per category
type Stats struct {
	Total  int              `json:"total"`
	ByType map[Category]int `json:"byType"`
}
