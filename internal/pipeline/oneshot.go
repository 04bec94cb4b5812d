package pipeline

import (
	"adregister/internal/directive"
	"adregister/internal/sheet"
	"adregister/internal/source"
)

// ExtractFromSource reads src once, decodes it and extracts its directives.
func ExtractFromSource(src source.Source, q Query, maxBytes int64) ([]directive.Directive, error) {
	blob, err := source.Read(src, maxBytes)
	if err != nil {
		return nil, err
	}
	return extractBlob(src.Ref(), blob, q)
}

func extractBlob(name string, blob []byte, q Query) ([]directive.Directive, error) {
	wb, err := sheet.Decode(name, blob)
	if err != nil {
		return nil, err
	}
	return ExtractDirectives(wb, q)
}
