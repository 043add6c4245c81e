package storage

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	TokenPersistentData = "%persistent_data_path%"
	TokenDataPath       = "%data_path%"
	TokenProductName    = "%product_name%"
	TokenCompanyName    = "%company_name%"
)

// Placeholders resolves the path tokens accepted in configured locations.
// Empty roots are derived from the OS on first use.
type Placeholders struct {
	PersistentDataPath string
	DataPath           string
	ProductName        string
	CompanyName        string
}

func NewPlaceholders(company, product string) Placeholders {
	p := Placeholders{ProductName: product, CompanyName: company}
	if dir, err := os.UserConfigDir(); err == nil {
		p.PersistentDataPath = filepath.Join(dir, safeSegment(company), safeSegment(product))
	}
	if exe, err := os.Executable(); err == nil {
		p.DataPath = filepath.Dir(exe)
	}
	return p
}

func (p Placeholders) Resolve(path string) string {
	if !strings.Contains(path, "%") {
		return path
	}
	return strings.NewReplacer(
		TokenPersistentData, p.PersistentDataPath,
		TokenDataPath, p.DataPath,
		TokenProductName, p.ProductName,
		TokenCompanyName, p.CompanyName,
	).Replace(path)
}

func safeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "default"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
