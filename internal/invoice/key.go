package invoice

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/garyjia/invoice-matcher/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

var mediaTypeExt = map[string]string{
	entity.MediaTypePDF:  "pdf",
	entity.MediaTypeJPEG: "jpg",
	entity.MediaTypePNG:  "png",
	entity.MediaTypeWebP: "webp",
}

// Namespace returns the storage key segment for an invoice: "orphan" until a
// ledger entry is known, then "entry-<id>".
func Namespace(ledgerEntryID *int64) string {
	if ledgerEntryID == nil {
		return entity.NamespaceOrphan
	}
	return fmt.Sprintf("entry-%d", *ledgerEntryID)
}

// StorageKey builds a unique object key of the form
// invoices/<namespace>/<unix-millis>-<uuid8>-<slug>.<ext>
func StorageKey(namespace, fileName, mediaType string, now time.Time) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	name := slug.Make(base)
	if name == "" {
		name = "invoice"
	}
	if len(name) > 80 {
		name = strings.Trim(name[:80], "-")
	}

	ext, ok := mediaTypeExt[mediaType]
	if !ok {
		ext = "bin"
	}

	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("invoices/%s/%d-%s-%s.%s", namespace, now.UnixMilli(), id, name, ext)
}
