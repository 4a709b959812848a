package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/sassoftware/go-rpmutils"
)

// signatureTags are tried in order; the first present one wins
var signatureTags = []int{
	rpmutils.SIG_GPG,
	rpmutils.SIG_PGP,
	rpmutils.SIG_RSA,
	rpmutils.SIG_DSA,
}

// RPMSignatureReader extracts OpenPGP issuer key ids from RPM signature headers
type RPMSignatureReader struct{}

// Signers returns the upper-case 16 hex digit issuer ids of the first
// signature tag present in the RPM header
func (RPMSignatureReader) Signers(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hdr, err := rpmutils.ReadHeader(f)
	if err != nil {
		return nil, fmt.Errorf("read rpm header: %w", err)
	}

	for _, tag := range signatureTags {
		blob, err := hdr.GetBytes(tag)
		if err != nil || len(blob) == 0 {
			continue
		}
		return IssuerKeyIDs(blob)
	}
	return nil, nil
}

// IssuerKeyIDs parses OpenPGP packets and returns each signature's issuer
func IssuerKeyIDs(blob []byte) ([]string, error) {
	rd := packet.NewReader(bytes.NewReader(blob))

	var ids []string
	for {
		p, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse signature packet: %w", err)
		}
		sig, ok := p.(*packet.Signature)
		if !ok {
			continue
		}
		switch {
		case sig.IssuerKeyId != nil:
			ids = append(ids, fmt.Sprintf("%016X", *sig.IssuerKeyId))
		case len(sig.IssuerFingerprint) >= 8:
			fp := sig.IssuerFingerprint
			ids = append(ids, fmt.Sprintf("%X", fp[len(fp)-8:]))
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("no signature packet with an issuer")
	}
	return ids, nil
}
