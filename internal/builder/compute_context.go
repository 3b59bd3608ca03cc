package builder

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spirali/orco/internal/value"
	orcoerr "github.com/spirali/orco/pkg/errors"
)

// Attachment is a side blob recorded during Compute (spec §5
// attach_file/attach_text/attach_object/attach_directory), queued for
// internal/exec to persist via Store.InsertBlob once Compute returns.
type Attachment struct {
	Name string
	Data []byte
	Mime string
	Repr string
}

// ComputeContext is passed to Builder.Compute: it exposes the worker's
// freshly-created temp directory (spec §5) and the attach_* operations of
// original_source/orco/jobfunctions.py, re-expressed without pickling.
type ComputeContext struct {
	WorkDir string
	// Relay mirrors job_setup.relay (spec §4.E): when true, Stdout streams
	// straight to the process's own stdout instead of being captured as
	// the job's !output blob.
	Relay       bool
	attachments []Attachment
	output      bytes.Buffer
}

// NewComputeContext wraps workDir, the worker's per-job scratch directory.
func NewComputeContext(workDir string) *ComputeContext {
	return &ComputeContext{WorkDir: workDir}
}

// Attachments returns the blobs recorded so far, in attach order.
func (c *ComputeContext) Attachments() []Attachment {
	return c.attachments
}

// Stdout is the writer a builder should use for progress output. Captured
// into the job's !output blob unless Relay is set (spec §4.E "Captured
// stdout/stderr (when relay=false) is attached as blob !output").
func (c *ComputeContext) Stdout() io.Writer {
	if c.Relay {
		return os.Stdout
	}
	return &c.output
}

// CapturedOutput returns the buffered !output bytes, or nil if Relay is set
// or nothing was written.
func (c *ComputeContext) CapturedOutput() []byte {
	if c.Relay || c.output.Len() == 0 {
		return nil
	}
	return c.output.Bytes()
}

func validateName(name string) error {
	if name == "" {
		return orcoerr.New(orcoerr.KindInvalidConfig, "attachment name must be non-empty")
	}
	if strings.HasPrefix(name, "!") {
		return orcoerr.New(orcoerr.KindInvalidConfig, "attachment name cannot start with '!'")
	}
	return nil
}

// AttachBytes attaches raw bytes under name with the given mime type.
func (c *ComputeContext) AttachBytes(name string, data []byte, mime, repr string) error {
	if err := validateName(name); err != nil {
		return err
	}
	c.attachments = append(c.attachments, Attachment{Name: name, Data: data, Mime: mime, Repr: repr})
	return nil
}

// AttachText attaches text as text/plain.
func (c *ComputeContext) AttachText(name, text string) error {
	return c.AttachBytes(name, []byte(text), "text/plain", "")
}

// AttachObject gob-encodes v and attaches it as application/x-gob (spec §9
// Design Note: the on-wire value encoding replaces Python's pickle).
func (c *ComputeContext) AttachObject(name string, v value.Value, repr string) error {
	data, err := value.EncodeGob(v)
	if err != nil {
		return fmt.Errorf("attach_object: %w", err)
	}
	return c.AttachBytes(name, data, value.MimeGob, repr)
}

// AttachFile reads filename (relative paths are resolved against
// c.WorkDir) and attaches its contents, inferring mime from extension when
// mime is empty.
func (c *ComputeContext) AttachFile(filename, name, mime, repr string) error {
	path := filename
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.WorkDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("attach_file: %w", err)
	}
	if name == "" {
		name = filename
	}
	if mime == "" {
		mime = mimeFromExt(filename)
	}
	return c.AttachBytes(name, data, mime, repr)
}

// AttachDirectory tars up path (relative paths resolved against
// c.WorkDir) and attaches the archive as application/tar.
func (c *ComputeContext) AttachDirectory(path, name, repr string) error {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(c.WorkDir, full)
	}
	info, err := os.Stat(full)
	if err != nil || !info.IsDir() {
		return orcoerr.New(orcoerr.KindInvalidConfig, fmt.Sprintf("attach_directory: %q is not a directory", path))
	}
	if name == "" {
		name = path
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	entries, err := os.ReadDir(full)
	if err != nil {
		return fmt.Errorf("attach_directory: %w", err)
	}
	for _, entry := range entries {
		if err := addTarEntry(tw, full, entry.Name()); err != nil {
			return fmt.Errorf("attach_directory: %w", err)
		}
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("attach_directory: %w", err)
	}
	return c.AttachBytes(name, buf.Bytes(), "application/tar", repr)
}

func addTarEntry(tw *tar.Writer, dir, name string) error {
	path := filepath.Join(dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if info.IsDir() {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

func mimeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".txt", ".log":
		return "text/plain"
	case ".json":
		return "application/json"
	case ".tar":
		return "application/tar"
	default:
		return "application/octet-stream"
	}
}
