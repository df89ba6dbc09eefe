package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"univera-backend/internal/storage"
	"univera-backend/internal/store"
)

// FileHandler serves tenant-scoped file uploads. Records of a schema with a
// `file` field store the URL this handler returns.
type FileHandler struct {
	db      *store.Store
	storage storage.FileStorage
	maxSize int64
}

func NewFileHandler(db *store.Store, fs storage.FileStorage, maxSize int64) *FileHandler {
	return &FileHandler{db: db, storage: fs, maxSize: maxSize}
}

// Upload handles POST /files/upload.
func (h *FileHandler) Upload(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return UnauthorizedError("Authentication required")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return respondError(c, NewAppError("INVALID_PAYLOAD", 400, "Missing file in form data"))
	}
	if file.Size > h.maxSize {
		msg := fmt.Sprintf("File too large: %d bytes (max %d)", file.Size, h.maxSize)
		return respondError(c, NewAppError("FILE_TOO_LARGE", 413, msg))
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	fileID := uuid.New().String()
	mimeType := file.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	storagePath, err := h.storage.Save(c.Context(), user.TenantID, fileID, file.Filename, src)
	if err != nil {
		return fmt.Errorf("save file: %w", err)
	}

	_, err = store.Exec(c.Context(), h.db.Pool,
		`INSERT INTO _files (id, tenant_id, filename, storage_path, mime_type, size, uploaded_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fileID, user.TenantID, file.Filename, storagePath, mimeType, file.Size, user.ID)
	if err != nil {
		// Clean up stored file on DB failure
		_ = h.storage.Delete(c.Context(), storagePath)
		return fmt.Errorf("insert _files: %w", err)
	}

	return c.Status(201).JSON(fiber.Map{"url": fmt.Sprintf("/files/%s", fileID)})
}

// Serve handles GET /files/:id.
func (h *FileHandler) Serve(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return UnauthorizedError("Authentication required")
	}

	id := c.Params("id")
	row, err := store.QueryRow(c.Context(), h.db.Pool,
		`SELECT filename, storage_path, mime_type FROM _files
		 WHERE id = $1 AND tenant_id = $2`, id, user.TenantID)
	if err != nil {
		return respondError(c, NewAppError("NOT_FOUND", 404, fmt.Sprintf("File %s not found", id)))
	}

	storagePath := row["storage_path"].(string)
	mimeType := row["mime_type"].(string)
	filename := row["filename"].(string)

	reader, err := h.storage.Open(c.Context(), storagePath)
	if err != nil {
		return fmt.Errorf("open stored file: %w", err)
	}
	// SendStream consumes the reader after the handler returns; fasthttp
	// closes it, so no defer here.

	c.Set("Content-Type", mimeType)
	c.Set("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, filename))
	return c.SendStream(reader)
}

// Delete handles DELETE /files/:id.
func (h *FileHandler) Delete(c *fiber.Ctx) error {
	user := getUser(c)
	if user == nil {
		return UnauthorizedError("Authentication required")
	}

	id := c.Params("id")
	row, err := store.QueryRow(c.Context(), h.db.Pool,
		"SELECT storage_path FROM _files WHERE id = $1 AND tenant_id = $2", id, user.TenantID)
	if err != nil {
		return respondError(c, NewAppError("NOT_FOUND", 404, fmt.Sprintf("File %s not found", id)))
	}

	storagePath := row["storage_path"].(string)
	if err := h.storage.Delete(c.Context(), storagePath); err != nil {
		return fmt.Errorf("delete stored file: %w", err)
	}

	_, err = store.Exec(c.Context(), h.db.Pool,
		"DELETE FROM _files WHERE id = $1 AND tenant_id = $2", id, user.TenantID)
	if err != nil {
		return fmt.Errorf("delete _files row: %w", err)
	}

	return c.JSON(fiber.Map{"data": fiber.Map{"deleted": true}})
}
