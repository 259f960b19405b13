package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"unicode"
)

var errEmptySegment = errors.New("storage: empty object path segment")

const maxFileNameLen = 120

// OrderItemImageObject names the object an order item image is written to:
//
//	orders/<orderID>/items/<itemID>/<uploadID>-<fileName>
//
// Ids must be single path segments. The file name is reduced to a safe character set.
func OrderItemImageObject(orderID, itemID, uploadID, fileName string) (string, error) {
	ids := []struct{ name, value string }{
		{"order id", orderID},
		{"item id", itemID},
		{"upload id", uploadID},
	}
	for i := range ids {
		v, err := pathSegment(ids[i].value)
		if err != nil {
			return "", fmt.Errorf("%s: %w", ids[i].name, err)
		}
		ids[i].value = v
	}
	name, err := safeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("file name: %w", err)
	}
	return path.Join("orders", ids[0].value, "items", ids[1].value, ids[2].value+"-"+name), nil
}

func pathSegment(value string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", errEmptySegment
	case strings.ContainsAny(value, `/\`), strings.Contains(value, ".."):
		return "", fmt.Errorf("storage: segment %q escapes its directory", value)
	}
	return value, nil
}

// safeFileName keeps letters, digits, dot, dash and underscore. Whitespace becomes "_" and
// everything else is dropped.
func safeFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if strings.ContainsAny(value, `/\`) || strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: file name %q escapes its directory", value)
	}
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return '_'
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_'):
			return r
		default:
			return -1
		}
	}, value)
	cleaned = strings.TrimLeft(cleaned, ".")
	if cleaned == "" {
		return "", errEmptySegment
	}
	if len(cleaned) > maxFileNameLen {
		cleaned = cleaned[len(cleaned)-maxFileNameLen:]
	}
	return cleaned, nil
}
