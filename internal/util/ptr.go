package util

func StringPtr(v string) *string {
	return &v
}

func IntPtr(v int) *int {
	return &v
}

// NonEmpty returns nil for a blank string.
func NonEmpty(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func Deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
