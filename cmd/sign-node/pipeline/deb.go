package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/blakesmith/ar"
)

// DebSignatureMember is the ar member that carries a dpkg-sig style origin signature
const DebSignatureMember = "_gpgorigin"

func isSignatureMember(name string) bool {
	return strings.TrimSuffix(strings.TrimSpace(name), "/") == DebSignatureMember
}

// signDEB signs the concatenation of a .deb's members and appends the
// signature as the last member, dropping any previous one
func (s *SigningStage) signDEB(ctx context.Context, req SignRequest, path string) error {
	payload, err := os.CreateTemp(filepath.Dir(path), ".payload-*")
	if err != nil {
		return fmt.Errorf("create payload file: %w", err)
	}
	defer os.Remove(payload.Name())
	defer payload.Close()

	if err := concatMembers(path, payload); err != nil {
		return err
	}
	if _, err := payload.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewind payload: %w", err)
	}

	signCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := s.signer.DetachSign(signCtx, req, payload)
	if err := checkOutcome(signCtx, out, err, s.timeout); err != nil {
		return err
	}
	if len(out.Signature) == 0 {
		return errors.New("signer returned an empty signature")
	}

	return appendSignature(path, out.Signature)
}

// concatMembers writes every member except the signature to w, in archive order
func concatMembers(path string, w io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rd := ar.NewReader(f)
	for {
		hdr, err := rd.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read ar member of %s: %w", path, err)
		}
		if isSignatureMember(hdr.Name) {
			continue
		}
		if _, err := io.Copy(w, rd); err != nil {
			return fmt.Errorf("copy member %s: %w", hdr.Name, err)
		}
	}
}

// appendSignature rewrites the archive next to path and renames it over the original
func appendSignature(path string, signature []byte) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".signed-*.deb")
	if err != nil {
		return fmt.Errorf("create signed archive: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	aw := ar.NewWriter(tmp)
	if err := aw.WriteGlobalHeader(); err != nil {
		return fmt.Errorf("write ar header: %w", err)
	}

	rd := ar.NewReader(src)
	for {
		hdr, err := rd.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read ar member of %s: %w", path, err)
		}
		if isSignatureMember(hdr.Name) {
			continue
		}
		// the ar writer pads per Write call, so each member goes out in one write
		data, err := io.ReadAll(rd)
		if err != nil {
			return fmt.Errorf("read member %s: %w", hdr.Name, err)
		}
		if err := writeMember(aw, hdr, data); err != nil {
			return err
		}
	}

	sigHdr := &ar.Header{
		Name:    DebSignatureMember,
		ModTime: time.Now().UTC().Truncate(time.Second),
		Mode:    0o644,
		Size:    int64(len(signature)),
	}
	if err := writeMember(aw, sigHdr, signature); err != nil {
		return err
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync signed archive: %w", err)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod signed archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close signed archive: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func writeMember(aw *ar.Writer, hdr *ar.Header, data []byte) error {
	hdr.Size = int64(len(data))
	if err := aw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("write member header %s: %w", hdr.Name, err)
	}
	if _, err := aw.Write(data); err != nil {
		return fmt.Errorf("write member %s: %w", hdr.Name, err)
	}
	return nil
}
