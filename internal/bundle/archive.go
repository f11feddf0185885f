package bundle

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path"
	"slices"
	"time"

	"github.com/klauspost/compress/zstd"
)

// archiveTime is the modification time recorded for every archive entry.
var archiveTime = time.Unix(1, 0).UTC()

// ArchiveName returns the conventional file name of b's archive.
func ArchiveName(b *Bundle) string {
	return b.Name + ".tar.zst"
}

// Archive writes b to w as a zstd-compressed tarball rooted at <name>/.
// Symlinks are dereferenced, so the archive is usable without the package
// directories it was composed from. Entries are sorted and carry fixed
// ownership and timestamps.
func Archive(b *Bundle, w io.Writer) (err error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}()
	tw := tar.NewWriter(zw)

	rels := make([]string, 0, len(b.Files))
	for rel := range b.Files {
		rels = append(rels, rel)
	}
	slices.Sort(rels)

	dirs := make(map[string]bool)
	for _, rel := range rels {
		if err := writeDirs(tw, dirs, path.Join(b.Name, path.Dir(rel))); err != nil {
			return err
		}
		if err := writeFile(tw, path.Join(b.Name, rel), b.Files[rel]); err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
	}
	return tw.Close()
}

// writeDirs emits headers for dir and its parents not yet written.
func writeDirs(tw *tar.Writer, written map[string]bool, dir string) error {
	if dir == "." || written[dir] {
		return nil
	}
	if err := writeDirs(tw, written, path.Dir(dir)); err != nil {
		return err
	}
	written[dir] = true
	return tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeDir,
		Name:     dir + "/",
		Mode:     0o755,
		ModTime:  archiveTime,
	})
}

func writeFile(tw *tar.Writer, name, src string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if !fi.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", src)
	}
	mode := int64(0o644)
	if fi.Mode()&0o111 != 0 {
		mode = 0o755
	}
	if err := tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     name,
		Size:     fi.Size(),
		Mode:     mode,
		ModTime:  archiveTime,
	}); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}
