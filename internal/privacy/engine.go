package privacy

import "strings"

// DefaultMaskingConfig enables every rule
func DefaultMaskingConfig() MaskingConfig {
	return MaskingConfig{
		EnablePhoneMasking:      true,
		EnableEmailMasking:      true,
		EnableCreditCardMasking: true,
		EnableSSNMasking:        true,
		EnableAddressMasking:    true,
		EnableDOBMasking:        true,
		EnableZipCodeMasking:    true,
	}
}

// Enabled reports whether the rule for category is switched on
func (c MaskingConfig) Enabled(category Category) bool {
	switch category {
	case CategoryPhone:
		return c.EnablePhoneMasking
	case CategoryEmail:
		return c.EnableEmailMasking
	case CategoryCreditCard:
		return c.EnableCreditCardMasking
	case CategorySSN:
		return c.EnableSSNMasking
	case CategoryAddress:
		return c.EnableAddressMasking
	case CategoryDOB:
		return c.EnableDOBMasking
	case CategoryZipCode:
		return c.EnableZipCodeMasking
	default:
		return false
	}
}

// With returns a copy of c with the flag for category set to enabled
func (c MaskingConfig) With(category Category, enabled bool) MaskingConfig {
	switch category {
	case CategoryPhone:
		c.EnablePhoneMasking = enabled
	case CategoryEmail:
		c.EnableEmailMasking = enabled
	case CategoryCreditCard:
		c.EnableCreditCardMasking = enabled
	case CategorySSN:
		c.EnableSSNMasking = enabled
	case CategoryAddress:
		c.EnableAddressMasking = enabled
	case CategoryDOB:
		c.EnableDOBMasking = enabled
	case CategoryZipCode:
		c.EnableZipCodeMasking = enabled
	}
	return c
}

// EnabledCategories lists the switched-on categories in evaluation order
func (c MaskingConfig) EnabledCategories() []Category {
	var enabled []Category
	for _, rule := range registry {
		if c.Enabled(rule.Category) {
			enabled = append(enabled, rule.Category)
		}
	}
	return enabled
}

// Mask replaces every PII span found by the enabled rules. Each rule scans the
// output of the previous one, so replacement tokens are never matched by a
// later rule and every detection refers to text that was actually replaced.
func Mask(text string, cfg MaskingConfig) MaskResult {
	detections := make([]Detection, 0)
	if text == "" {
		return MaskResult{MaskedText: text, Detections: detections}
	}

	masked := text
	for _, rule := range registry {
		if !cfg.Enabled(rule.Category) {
			continue
		}
		masked, detections = rule.apply(masked, detections)
	}

	return MaskResult{
		MaskedText: masked,
		Detections: detections,
		HasPII:     len(detections) > 0,
	}
}

// apply replaces all non-overlapping matches of the rule in text
func (r Rule) apply(text string, detections []Detection) (string, []Detection) {
	locations := r.Pattern.FindAllStringIndex(text, -1)
	if len(locations) == 0 {
		return text, detections
	}

	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, loc := range locations {
		start, end := loc[0], loc[1]
		original := text[start:end]
		detections = append(detections, Detection{
			Type:     r.Category,
			Original: original,
			Position: start,
			Length:   end - start,
		})
		b.WriteString(text[last:start])
		b.WriteString(r.Mask(original))
		last = end
	}
	b.WriteString(text[last:])

	return b.String(), detections
}

// Detect reports which categories match the unmodified text. Every rule runs
// regardless of configuration.
func Detect(text string) DetectResult {
	detected := make([]Category, 0)
	if text == "" {
		return DetectResult{DetectedTypes: detected}
	}

	for _, rule := range registry {
		if rule.Pattern.MatchString(text) {
			detected = append(detected, rule.Category)
		}
	}

	return DetectResult{
		HasPII:        len(detected) > 0,
		DetectedTypes: detected,
	}
}

// Statistics masks text with every rule enabled and counts detections per category
func Statistics(text string) Stats {
	result := Mask(text, DefaultMaskingConfig())

	stats := Stats{
		Total:  len(result.Detections),
		ByType: make(map[Category]int),
	}
	for _, detection := range result.Detections {
		stats.ByType[detection.Type]++
	}

	return stats
}

// Redacted returns copies of detections with the original values removed, for
// storing alongside masked text.
func Redacted(detections []Detection) []Detection {
	out := make([]Detection, len(detections))
	for i, detection := range detections {
		detection.Original = ""
		out[i] = detection
	}
	return out
}
