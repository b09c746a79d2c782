package authstore

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"zapgate/pkg/logger"
)

// ErrBlobNotFound indica que não existe blob salvo para a instância
var ErrBlobNotFound = errors.New("auth blob not found")

// Store arquiva os dados de autenticação de cada instância como um
// blob opaco em disco. O conteúdo do blob nunca é interpretado; o
// engine só decide entre "existe" e "não existe".
type Store struct {
	baseDir string
	logger  logger.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore cria um novo store de blobs de autenticação
func NewStore(baseDir string, log logger.Logger) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session storage dir: %w", err)
	}

	return &Store{
		baseDir: baseDir,
		logger:  log.WithComponent("authstore"),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// lockFor retorna o mutex da instância, criando se necessário.
// Serializa Save/Extract/Delete concorrentes sobre o mesmo blob.
func (s *Store) lockFor(instanceID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.locks[instanceID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[instanceID] = l
	return l
}

func (s *Store) blobPath(instanceID string) string {
	return filepath.Join(s.baseDir, instanceID+".zip")
}

// Exists verifica se há blob salvo para a instância
func (s *Store) Exists(instanceID string) bool {
	info, err := os.Stat(s.blobPath(instanceID))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// Save arquiva o diretório de autenticação da instância como blob.
// A escrita é feita em arquivo temporário e renomeada no final, para
// nunca deixar um blob truncado no lugar de um válido.
func (s *Store) Save(instanceID, sourceDir string) error {
	lock := s.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	info, err := os.Stat(sourceDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("auth source dir %s not available: %w", sourceDir, err)
	}

	tmpPath := s.blobPath(instanceID) + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create blob: %w", err)
	}

	zw := zip.NewWriter(f)
	err = filepath.Walk(sourceDir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(sourceDir, path)
		if err != nil {
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})

	if err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to archive auth data: %w", err)
	}

	if err := os.Rename(tmpPath, s.blobPath(instanceID)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to publish blob: %w", err)
	}

	s.logger.Debug().
		Str("instance_id", instanceID).
		Msg("Auth blob saved")

	return nil
}

// Extract restaura o blob da instância para o diretório de destino
func (s *Store) Extract(instanceID, targetDir string) error {
	lock := s.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	path := s.blobPath(instanceID)
	zr, err := zip.OpenReader(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrBlobNotFound
		}
		return fmt.Errorf("failed to open blob: %w", err)
	}
	defer zr.Close()

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return fmt.Errorf("failed to create target dir: %w", err)
	}

	for _, entry := range zr.File {
		// Proteção contra caminhos fora do destino
		cleaned := filepath.Clean(entry.Name)
		if strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
			return fmt.Errorf("blob entry %q escapes target dir", entry.Name)
		}

		dest := filepath.Join(targetDir, cleaned)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}

		src, err := entry.Open()
		if err != nil {
			return err
		}

		out, err := os.Create(dest)
		if err != nil {
			src.Close()
			return err
		}

		_, err = io.Copy(out, src)
		src.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
		}
	}

	s.logger.Debug().
		Str("instance_id", instanceID).
		Msg("Auth blob extracted")

	return nil
}

// Delete remove o blob da instância. Remover um blob inexistente não
// é erro.
func (s *Store) Delete(instanceID string) error {
	lock := s.lockFor(instanceID)
	lock.Lock()
	defer lock.Unlock()

	err := os.Remove(s.blobPath(instanceID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}

	s.logger.Info().
		Str("instance_id", instanceID).
		Msg("Auth blob deleted")

	return nil
}

// List retorna os IDs de instância com blob salvo
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read session storage dir: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".zip") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".zip"))
	}

	return ids, nil
}
