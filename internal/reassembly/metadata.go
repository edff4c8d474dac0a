package reassembly

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/unicode"
)

// Metadata holds Info dictionary entries to set on the merged document.
// Empty fields are left untouched.
type Metadata struct {
	Title    string            `mapstructure:"title" yaml:"title"`
	Author   string            `mapstructure:"author" yaml:"author"`
	Subject  string            `mapstructure:"subject" yaml:"subject"`
	Keywords string            `mapstructure:"keywords" yaml:"keywords"`
	Creator  string            `mapstructure:"creator" yaml:"creator"`
	Producer string            `mapstructure:"producer" yaml:"producer"`
	Custom   map[string]string `mapstructure:"custom" yaml:"custom"`
}

// IsZero reports whether there is nothing to patch.
func (m Metadata) IsZero() bool {
	return m.Title == "" && m.Author == "" && m.Subject == "" && m.Keywords == "" &&
		m.Creator == "" && m.Producer == "" && len(m.Custom) == 0
}

func (m Metadata) entries() [][2]string {
	var out [][2]string
	add := func(k, v string) {
		if v != "" {
			out = append(out, [2]string{k, v})
		}
	}
	add("Title", m.Title)
	add("Author", m.Author)
	add("Subject", m.Subject)
	add("Keywords", m.Keywords)
	add("Creator", m.Creator)
	add("Producer", m.Producer)

	keys := make([]string, 0, len(m.Custom))
	for k := range m.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, m.Custom[k])
	}
	return out
}

// apply sets metadata entries in info, keeping any entries it does not
// overwrite.
func (m Metadata) apply(info types.Dict) error {
	for _, kv := range m.entries() {
		v, err := pdfString(kv[1])
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", kv[0], err)
		}
		info[kv[0]] = v
	}
	return nil
}

// pdfString encodes s as a PDF text string: a literal for ASCII, UTF-16BE
// with byte order mark otherwise.
func pdfString(s string) (types.Object, error) {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
		return types.StringLiteral(r.Replace(s)), nil
	}

	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	b, err := enc.Bytes([]byte(s))
	if err != nil {
		return nil, err
	}
	return types.NewHexLiteral(b), nil
}
