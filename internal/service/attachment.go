package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Rrens/classroom-live/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"
)

// AttachmentService stores uploaded files on local disk and their metadata
// in the attachment repository
type AttachmentService struct {
	classrooms     *ClassroomService
	attachmentRepo domain.AttachmentRepository
	uploadDir      string
	maxSize        int64
	publicBaseURL  string
	now            func() time.Time
}

// NewAttachmentService creates a new attachment service
func NewAttachmentService(
	classrooms *ClassroomService,
	attachmentRepo domain.AttachmentRepository,
	uploadDir string,
	maxSize int64,
	publicBaseURL string,
) *AttachmentService {
	return &AttachmentService{
		classrooms:     classrooms,
		attachmentRepo: attachmentRepo,
		uploadDir:      uploadDir,
		maxSize:        maxSize,
		publicBaseURL:  strings.TrimRight(publicBaseURL, "/"),
		now:            time.Now,
	}
}

// Upload stores the content and records its metadata
func (s *AttachmentService) Upload(ctx context.Context, userID uuid.UUID, slug, fileName, mimeType string, content io.Reader) (*domain.Attachment, error) {
	fileName = filepath.Base(strings.TrimSpace(fileName))
	if fileName == "" || fileName == "." || fileName == string(filepath.Separator) {
		return nil, domain.NewValidationError("file", "file name is required")
	}

	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	if mimeType == "" {
		mimeType = mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to prepare upload dir: %w", err)
	}

	id := uuid.New()
	storageKey := id.String() + strings.ToLower(filepath.Ext(fileName))
	destPath := filepath.Join(s.uploadDir, storageKey)

	dst, err := os.Create(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}
	defer dst.Close()

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to init content hash: %w", err)
	}

	limited := io.LimitReader(content, s.maxSize+1)
	size, err := io.Copy(io.MultiWriter(dst, hash), limited)
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}
	if size > s.maxSize {
		os.Remove(destPath)
		return nil, domain.NewValidationError("file", fmt.Sprintf("file exceeds %d bytes", s.maxSize))
	}

	publicID := domain.NewPublicID()
	attachment := &domain.Attachment{
		ID:          id,
		PublicID:    publicID,
		ClassroomID: membership.Classroom.ID,
		OwnerID:     userID,
		URL:         fmt.Sprintf("%s/classrooms/%s/attachments/%s/content", s.publicBaseURL, membership.Classroom.Slug, id),
		FileName:    fileName,
		MimeType:    mimeType,
		SizeBytes:   size,
		Visibility:  domain.VisibilityClassroom,
		ContentHash: hex.EncodeToString(hash.Sum(nil)),
		StorageKey:  storageKey,
		CreatedAt:   s.now(),
	}

	if err := s.attachmentRepo.Create(ctx, attachment); err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("failed to record attachment: %w", err)
	}

	log.Info().
		Str("attachment_id", id.String()).
		Str("file_name", fileName).
		Int64("size", size).
		Msg("Attachment uploaded")

	return attachment, nil
}

// Get returns attachment metadata
func (s *AttachmentService) Get(ctx context.Context, userID uuid.UUID, slug string, id uuid.UUID) (*domain.Attachment, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	attachment, err := s.attachmentRepo.Get(ctx, membership.Classroom.ID, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get attachment: %w", err)
	}
	if attachment == nil {
		return nil, fmt.Errorf("attachment %s: %w", id, domain.ErrNotFound)
	}
	return attachment, nil
}

// List returns the classroom's attachments, optionally restricted to ids
func (s *AttachmentService) List(ctx context.Context, userID uuid.UUID, slug string, ids []uuid.UUID) ([]domain.Attachment, error) {
	membership, err := s.classrooms.Resolve(ctx, userID, slug)
	if err != nil {
		return nil, err
	}

	attachments, err := s.attachmentRepo.ListByClassroom(ctx, membership.Classroom.ID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}
	return attachments, nil
}

// Open returns the attachment with a reader over its content
func (s *AttachmentService) Open(ctx context.Context, userID uuid.UUID, slug string, id uuid.UUID) (*domain.Attachment, io.ReadSeekCloser, error) {
	attachment, err := s.Get(ctx, userID, slug, id)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(filepath.Join(s.uploadDir, attachment.StorageKey))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, fmt.Errorf("attachment content %s: %w", id, domain.ErrNotFound)
		}
		return nil, nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return attachment, f, nil
}
