package profiles

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"strings"

	"go.yaml.in/yaml/v3"

	"pasantias-monitor/internal/domain"
)

// File: содержимое файла профилей.
//
//	recipients:
//	  - id: ana
//	    name: Ana Pérez
//	    address: ana@example.org
//	    profile:
//	      career: Abogacía
//	      skills: [redacción, procuración]
type File struct {
	Recipients []domain.Recipient `yaml:"recipients"`
}

// Load читает получателей из YAML. Неизвестные поля считаются ошибкой.
func Load(path string) ([]domain.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("profiles: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode разбирает YAML и проверяет получателей.
func Decode(r io.Reader) ([]domain.Recipient, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var file File
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("profiles: разбор yaml: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Recipients))
	out := make([]domain.Recipient, 0, len(file.Recipients))
	for i, rcpt := range file.Recipients {
		rcpt.ID = strings.TrimSpace(rcpt.ID)
		rcpt.Address = strings.TrimSpace(rcpt.Address)
		if rcpt.Address == "" {
			return nil, fmt.Errorf("profiles: получатель #%d без address", i+1)
		}
		if rcpt.ID == "" {
			rcpt.ID = rcpt.Address
		}
		if _, dup := seen[rcpt.ID]; dup {
			return nil, fmt.Errorf("profiles: повторяется id %q", rcpt.ID)
		}
		seen[rcpt.ID] = struct{}{}
		if rcpt.Name == "" {
			rcpt.Name = rcpt.Profile.FullName
		}
		out = append(out, rcpt)
	}
	return out, nil
}

// Resolve возвращает получателей из файла, а без файла одного получателя по адресу.
func Resolve(path, address, name string) ([]domain.Recipient, error) {
	if path != "" {
		recipients, err := Load(path)
		if err != nil {
			return nil, err
		}
		if len(recipients) > 0 {
			return recipients, nil
		}
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("profiles: не задан ни один получатель")
	}
	rcpt := domain.Recipient{ID: address, Name: name, Address: address}
	if parsed, err := mail.ParseAddress(address); err == nil {
		rcpt.ID = parsed.Address
		rcpt.Address = parsed.Address
		if rcpt.Name == "" {
			rcpt.Name = parsed.Name
		}
	}
	return []domain.Recipient{rcpt}, nil
}
