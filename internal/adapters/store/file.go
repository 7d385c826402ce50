package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
)

const (
	snapshotFile      = "snapshot.json"
	notificationsFile = "notifications.jsonl"
)

// FileStore хранит снимок в JSON файле и журнал уведомлений в JSON Lines.
//
// Файлы в каталоге:
//   - snapshot.json       (заменяется целиком через временный файл и rename)
//   - notifications.jsonl (только дозапись, fsync после каждой записи)
type FileStore struct {
	dir    string
	logger zerolog.Logger

	mu      sync.Mutex
	journal *os.File

	// rename подменяется в тестах, чтобы имитировать падение перед заменой файла.
	rename func(oldpath, newpath string) error
}

var _ domain.SnapshotStore = (*FileStore)(nil)

// OpenFile открывает файловое хранилище в каталоге dir.
func OpenFile(dir string, logger zerolog.Logger) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("store: не задан каталог для файлового хранилища")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	journal, err := os.OpenFile(filepath.Join(dir, notificationsFile), os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	s := &FileStore{
		dir:     dir,
		logger:  logger.With().Str("component", "store.file").Logger(),
		journal: journal,
		rename:  os.Rename,
	}
	if err := s.terminateTornLine(); err != nil {
		_ = journal.Close()
		return nil, &domain.StorageError{Op: "open", Err: err}
	}
	return s, nil
}

// terminateTornLine закрывает оборванную при падении строку журнала,
// иначе следующая запись склеится с ней и потеряется при чтении.
func (s *FileStore) terminateTornLine() error {
	info, err := s.journal.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}
	last := make([]byte, 1)
	if _, err := s.journal.ReadAt(last, info.Size()-1); err != nil {
		return fmt.Errorf("чтение хвоста журнала: %w", err)
	}
	if last[0] == '\n' {
		return nil
	}
	if _, err := s.journal.Write([]byte{'\n'}); err != nil {
		return err
	}
	s.logger.Warn().Int64("size", info.Size()).Msg("store: оборванная строка журнала закрыта")
	return s.journal.Sync()
}

// Load читает снимок. Отсутствующий файл означает первый запуск.
func (s *FileStore) Load(ctx context.Context) (domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, snapshotFile))
	if errors.Is(err, os.ErrNotExist) {
		return domain.EmptySnapshot(), nil
	}
	if err != nil {
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: err}
	}
	return decodeSnapshot(data)
}

// Save пишет снимок во временный файл, синхронизирует его и переименовывает поверх старого.
func (s *FileStore) Save(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := encodeSnapshot(snapshot)
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target := filepath.Join(s.dir, snapshotFile)
	tmp, err := os.CreateTemp(s.dir, snapshotFile+".*.tmp")
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &domain.StorageError{Op: "save", Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &domain.StorageError{Op: "save", Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &domain.StorageError{Op: "save", Err: err}
	}
	if err := s.rename(tmpName, target); err != nil {
		cleanup()
		return &domain.StorageError{Op: "save", Err: err}
	}
	if err := syncDir(s.dir); err != nil {
		s.logger.Warn().Err(err).Msg("store: fsync каталога не удался")
	}
	return nil
}

// RecordNotification дописывает запись в журнал и синхронизирует файл.
func (s *FileStore) RecordNotification(ctx context.Context, record domain.NotificationRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return &domain.StorageError{Op: "record_notification", Err: err}
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return &domain.StorageError{Op: "record_notification", Err: errors.New("журнал закрыт")}
	}
	if _, err := s.journal.Write(line); err != nil {
		return &domain.StorageError{Op: "record_notification", Err: err}
	}
	if err := s.journal.Sync(); err != nil {
		return &domain.StorageError{Op: "record_notification", Err: err}
	}
	return nil
}

// ListNotifications читает журнал целиком. Повреждённые строки пропускаются.
func (s *FileStore) ListNotifications(ctx context.Context) ([]domain.NotificationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(filepath.Join(s.dir, notificationsFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "list_notifications", Err: err}
	}
	defer f.Close()

	var out []domain.NotificationRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var r domain.NotificationRecord
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil || r.Key == "" {
			s.logger.Warn().Int("line", line).Msg("store: повреждённая строка журнала пропущена")
			continue
		}
		out = append(out, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list_notifications", Err: err}
	}
	return out, nil
}

// Close закрывает журнал.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.journal.Close()
	s.journal = nil
	return err
}

func encodeSnapshot(snapshot domain.Snapshot) ([]byte, error) {
	if snapshot.Offers == nil {
		snapshot.Offers = map[string]domain.Offer{}
	}
	snapshot.SchemaVersion = domain.SnapshotSchemaVersion
	return json.MarshalIndent(snapshot, "", "  ")
}

func decodeSnapshot(data []byte) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: fmt.Errorf("разбор снимка: %w", err)}
	}
	if snapshot.SchemaVersion > domain.SnapshotSchemaVersion {
		return domain.Snapshot{}, &domain.StorageError{Op: "load", Err: fmt.Errorf("неизвестная версия схемы %d", snapshot.SchemaVersion)}
	}
	if snapshot.SchemaVersion == 0 {
		snapshot.SchemaVersion = domain.SnapshotSchemaVersion
	}
	if snapshot.Offers == nil {
		snapshot.Offers = map[string]domain.Offer{}
	}
	return snapshot, nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
