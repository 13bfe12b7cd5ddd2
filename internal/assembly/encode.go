package assembly

import (
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/vellum-cms/vellum/internal/errors"
)

// encodeCharset transcodes UTF-8 output bytes into the template's
// declared charset. UTF-8 and unset charsets pass through.
func encodeCharset(body []byte, charset string) ([]byte, error) {
	cs := strings.ToLower(strings.TrimSpace(charset))
	if cs == "" || cs == "utf-8" || cs == "utf8" {
		return body, nil
	}

	enc, err := htmlindex.Get(cs)
	if err != nil {
		return nil, errors.NewAssemblyError("unknown_charset",
			"unknown template charset "+charset, err)
	}

	out, err := enc.NewEncoder().Bytes(body)
	if err != nil {
		return nil, errors.NewAssemblyError("charset_encode_failed",
			"encoding output as "+charset, err)
	}
	return out, nil
}
