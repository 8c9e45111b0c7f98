package sqlite

import (
	"os"
	"strings"
)

func (s *Sqlite) Migrate() error {
	return s.MigrateFrom("sql/schema.sql")
}

// MigrateFrom applies the schema file at the given path, one statement at a
// time. Tests point this at the repo schema from their package directory.
func (s *Sqlite) MigrateFrom(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	stmts := strings.Split(string(b), ";\n")

	for _, stmt := range stmts {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err = s.Db.Exec(st); err != nil {
			return err
		}
	}
	return nil
}
