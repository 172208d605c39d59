package inspect

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Ning0612/Cargoback/internal/domain"
)

const mebibyte = 1024 * 1024

var summaryTemplate = template.Must(template.New("summary").Parse(
	`Backup type: {{.BackupType}}
File name prefix: {{.Prefix}}
Started at: {{.Started}} (Epoch seconds: {{.Epoch}})
Contains {{.Files}} files ({{.Size}} MiB)
Versions: [{{.Versions}}]
Encrypted: {{.Encrypted}}
Hash algorithm: {{.HashAlgorithm}}
Compression algorithm: {{.Compression}}
`))

type summaryData struct {
	BackupType    domain.BackupType
	Prefix        string
	Started       string
	Epoch         int64
	Files         int
	Size          string
	Versions      string
	Encrypted     bool
	HashAlgorithm string
	Compression   string
}

// WriteSummary renders the human readable summary of one increment
func WriteSummary(w io.Writer, m *domain.BackupIncrementManifest) error {
	versions := make([]string, len(m.Versions))
	for i, v := range m.Versions {
		versions[i] = strconv.Itoa(v)
	}

	files := 0
	for _, f := range m.Files {
		if f.Status != domain.ChangeDeleted {
			files++
		}
	}

	return summaryTemplate.Execute(w, summaryData{
		BackupType:    m.BackupType,
		Prefix:        m.FileNamePrefix,
		Started:       m.StartTime().Format(time.RFC3339),
		Epoch:         m.StartTimeUtcEpochSeconds,
		Files:         files,
		Size:          fmt.Sprintf("%.2f", float64(m.TotalSize())/mebibyte),
		Versions:      strings.Join(versions, ", "),
		Encrypted:     m.Configuration.Encrypted(),
		HashAlgorithm: string(m.Configuration.HashAlgorithm),
		Compression:   string(m.Configuration.Compression),
	})
}

// WriteSummaries renders every increment, separated by a blank line
func WriteSummaries(w io.Writer, manifests []*domain.BackupIncrementManifest) error {
	for i, m := range manifests {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if err := WriteSummary(w, m); err != nil {
			return err
		}
	}
	return nil
}

// WriteContent exports the files present in an increment as tab separated
// values, sorted by path. Deleted files are left out.
func WriteContent(w io.Writer, m *domain.BackupIncrementManifest) error {
	out := csv.NewWriter(w)
	out.Comma = '\t'

	header := []string{"permissions", "owner", "group", "size", "last_modified",
		"hash_" + strings.ToLower(string(m.Configuration.HashAlgorithm)), "path"}
	if err := out.Write(header); err != nil {
		return err
	}

	for _, f := range m.SortedFiles() {
		if f.Status == domain.ChangeDeleted {
			continue
		}
		hash := f.Hash
		if hash == "" {
			hash = "-"
		}
		row := []string{
			f.Permissions,
			f.Owner,
			f.Group,
			strconv.FormatInt(f.Size, 10),
			f.LastModified.UTC().Format(time.RFC3339),
			hash,
			f.AbsolutePath,
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}

	out.Flush()
	return out.Error()
}
