package faces

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/eleven-am/see-server/internal/shared"
	"github.com/eleven-am/see-server/internal/vision"
	"gorm.io/gorm"
)

var ErrInvalidName = errors.New("invalid face name")

// Store persists learned faces as PNG files in a directory and catalogs
// them in the database.
type Store struct {
	db  *gorm.DB
	dir string
}

func NewStore(db *gorm.DB, dir string) *Store {
	return &Store{db: db, dir: dir}
}

func (s *Store) Migrate() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create faces dir: %w", err)
	}
	return s.db.AutoMigrate(&LearnedFace{})
}

func (s *Store) Dir() string {
	return s.dir
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', 0:
			return '_'
		}
		return r
	}, name)
}

// Save encodes the frame as PNG and writes it as "{key}_{name}.png". An empty
// key is replaced by a generated id. Saving the same key and name again
// replaces the earlier image. A new file is removed again if the catalog
// write fails.
func (s *Store) Save(ctx context.Context, key, name string, frame *vision.Frame) (*LearnedFace, error) {
	clean := sanitizeName(name)
	if clean == "" || clean == "." || clean == ".." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := frame.PNG()
	if err != nil {
		return nil, err
	}

	face := &LearnedFace{
		ID:       shared.NewID(""),
		Key:      sanitizeName(key),
		Name:     clean,
		Width:    frame.Width,
		Height:   frame.Height,
		FrameSeq: frame.Seq,
	}
	if face.Key == "" {
		face.Key = face.ID
	}
	face.FileName = fmt.Sprintf("%s_%s.png", face.Key, clean)

	var existing LearnedFace
	err = s.db.WithContext(ctx).Where("file_name = ?", face.FileName).First(&existing).Error
	replacing := err == nil
	if replacing {
		face.ID = existing.ID
		face.CreatedAt = existing.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup face: %w", err)
	}

	path := filepath.Join(s.dir, face.FileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("write face image: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("rename face image: %w", err)
	}

	if err := s.db.WithContext(ctx).Save(face).Error; err != nil {
		if !replacing {
			_ = os.Remove(path)
		}
		return nil, fmt.Errorf("record face: %w", err)
	}
	return face, nil
}

// ListFiles returns the PNG file names in the faces directory, sorted.
func (s *Store) ListFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".png" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

func (s *Store) List(ctx context.Context) ([]*LearnedFace, error) {
	var faces []*LearnedFace
	err := s.db.WithContext(ctx).Order("created_at desc").Find(&faces).Error
	return faces, err
}

func (s *Store) GetByID(ctx context.Context, id string) (*LearnedFace, error) {
	var face LearnedFace
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&face).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &face, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	face, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&LearnedFace{}, "id = ?", id).Error; err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, face.FileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove face image: %w", err)
	}
	return nil
}
