package archive

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/Ning0612/Cargoback/internal/domain"
)

const lineBreak = "\n"

// propertyWriter emits key:value lines in call order
type propertyWriter struct {
	w   *bufio.Writer
	err error
}

func newPropertyWriter(w io.Writer) *propertyWriter {
	return &propertyWriter{w: bufio.NewWriter(w)}
}

func (p *propertyWriter) put(key, value string) {
	if p.err != nil {
		return
	}
	_, p.err = p.w.WriteString(key + ":" + escapeValue(value) + lineBreak)
}

func (p *propertyWriter) putInt(key string, value int64) {
	p.put(key, strconv.FormatInt(value, 10))
}

func (p *propertyWriter) flush() error {
	if p.err != nil {
		return p.err
	}
	return p.w.Flush()
}

// properties is a parsed flat key:value document
type properties map[string]string

// parseProperties reads key:value lines. Keys end at the first ':'.
func parseProperties(r io.Reader) (properties, error) {
	props := make(properties)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		key, raw, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: line %d is not a key:value pair", domain.ErrIntegrity, lineNo)
		}
		value, err := unescapeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", domain.ErrIntegrity, lineNo, err)
		}
		if _, dup := props[key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", domain.ErrIntegrity, key)
		}
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading properties: %v", domain.ErrIntegrity, err)
	}
	return props, nil
}

func (p properties) str(key string) (string, error) {
	v, ok := p[key]
	if !ok {
		return "", fmt.Errorf("%w: missing key %q", domain.ErrIntegrity, key)
	}
	return v, nil
}

func (p properties) integer(key string) (int64, error) {
	v, err := p.str(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q: %v", domain.ErrIntegrity, key, err)
	}
	return n, nil
}

func (p properties) hasPrefix(prefix string) bool {
	for k := range p {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

var valueEscaper = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)

func escapeValue(s string) string {
	return valueEscaper.Replace(s)
}

func unescapeValue(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", fmt.Errorf("dangling escape")
		}
		switch s[i] {
		case '\\':
			b.WriteByte('\\')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		default:
			return "", fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return b.String(), nil
}
