package util

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ComicInfo is the metadata file comic readers look for inside a CBZ.
type ComicInfo struct {
	XMLName     xml.Name `xml:"ComicInfo"`
	Title       string   `xml:"Title,omitempty"`
	Series      string   `xml:"Series,omitempty"`
	Number      string   `xml:"Number,omitempty"`
	Volume      string   `xml:"Volume,omitempty"`
	Web         string   `xml:"Web,omitempty"`
	LanguageISO string   `xml:"LanguageISO,omitempty"`
	PageCount   int      `xml:"PageCount,omitempty"`
}

// CreateCBZ zips files, sorted by name, into output. The archive is
// written next to output and renamed into place once complete. info may
// be nil.
func CreateCBZ(files []string, output string, info *ComicInfo) (err error) {
	tmp := output + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("cbz: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	z := zip.NewWriter(out)
	if err := writeEntries(z, files, info); err != nil {
		return errors.Join(fmt.Errorf("cbz %s: %w", output, err), z.Close(), out.Close())
	}
	if err := z.Close(); err != nil {
		_ = out.Close()
		return fmt.Errorf("cbz %s: %w", output, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("cbz %s: %w", output, err)
	}

	return os.Rename(tmp, output)
}

func writeEntries(z *zip.Writer, files []string, info *ComicInfo) error {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	for _, file := range sorted {
		if err := addFileToZip(z, file); err != nil {
			return err
		}
	}

	if info == nil {
		return nil
	}
	if info.PageCount == 0 {
		info.PageCount = len(files)
	}
	w, err := z.Create("ComicInfo.xml")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	return enc.Encode(info)
}

func addFileToZip(z *zip.Writer, file string) (err error) {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = filepath.Base(file)
	header.Method = zip.Deflate

	w, err := z.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}
