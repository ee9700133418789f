package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the struct tags of cfg and the rules that span sections.
//
// Tag failures are reported as "<field>: failed '<tag>' validation", one per
// line, so callers can surface every problem at once.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, formatFieldError(fe))
		}
		return errors.New(strings.Join(msgs, "\n"))
	}

	return validateDirectories(cfg)
}

func formatFieldError(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed '%s=%s' validation (value: %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return fmt.Sprintf("%s: failed '%s' validation (value: %v)", fe.Namespace(), fe.Tag(), fe.Value())
}

// validateDirectories rejects a directory listed twice within a role and a
// directory shared by the primary and the secondary. Either would make the
// second lock attempt on the directory fail at startup.
func validateDirectories(cfg *Config) error {
	primary := make(map[string]string)
	for _, d := range cfg.Namenode.ImageDirs {
		if err := claim(primary, d, "namenode.image_dirs"); err != nil {
			return err
		}
	}
	for _, d := range cfg.Namenode.EditsDirs {
		// A directory may serve both roles of the primary.
		if owner, ok := primary[filepath.Clean(d)]; ok && owner == "namenode.image_dirs" {
			continue
		}
		if err := claim(primary, d, "namenode.edits_dirs"); err != nil {
			return err
		}
	}

	dirs := append(append([]string{}, cfg.Secondary.CheckpointDirs...), cfg.Secondary.CheckpointEditsDirs...)
	for _, d := range dirs {
		if owner, ok := primary[filepath.Clean(d)]; ok {
			return fmt.Errorf("directory %s is used by both %s and the secondary", d, owner)
		}
	}
	return nil
}

func claim(seen map[string]string, dir, owner string) error {
	clean := filepath.Clean(dir)
	if prev, ok := seen[clean]; ok {
		return fmt.Errorf("directory %s is listed twice (%s, %s)", dir, prev, owner)
	}
	seen[clean] = owner
	return nil
}
