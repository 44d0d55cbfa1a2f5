package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/jedisct1/go-minisign"
	"github.com/ralt/altsource/internal/models"
)

const maxSignatureBytes = 64 << 10

// verifySignature checks the downloaded release asset against the package's
// minisign key when the release publishes "<asset>.minisig".
func (r *syncRun) verifySignature(ctx context.Context) *Outcome {
	key := models.CleanOptional(r.cfg.MinisignKey)
	if key == "" {
		return nil
	}

	var sigAsset *models.Asset
	for i, a := range r.source.Assets {
		if a.Name == r.asset.Name+".minisig" {
			sigAsset = &r.source.Assets[i]
			break
		}
	}
	if sigAsset == nil {
		r.log.Warnf("No minisign signature published for %s", r.asset.Name)
		return nil
	}

	pk, err := minisign.NewPublicKey(key)
	if err != nil {
		return r.fail(models.ErrSignatureInvalid, fmt.Errorf("invalid minisign key: %w", err))
	}

	raw, err := r.p.api.Fetch(ctx, sigAsset.DownloadURL, maxSignatureBytes)
	if err != nil {
		return r.fail(models.ErrTransfer, err)
	}
	sig, err := minisign.DecodeSignature(string(raw))
	if err != nil {
		return r.fail(models.ErrSignatureInvalid, fmt.Errorf("failed to decode %s: %w", sigAsset.Name, err))
	}

	bin, err := os.ReadFile(r.binary)
	if err != nil {
		return r.fail(models.ErrTransfer, err)
	}
	ok, err := pk.Verify(bin, sig)
	if err == nil && !ok {
		err = errors.New("signature mismatch")
	}
	if err != nil {
		return r.fail(models.ErrSignatureInvalid, fmt.Errorf("%s: %w", r.asset.Name, err))
	}

	r.log.Debugf("Verified %s with minisign", r.asset.Name)
	return nil
}
