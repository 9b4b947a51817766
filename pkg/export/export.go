// Package export packages session transcripts as JSON documents and zip archives.
package export

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/harun/oni/pkg/session"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// MaxEntrySize bounds one decompressed archive entry.
const MaxEntrySize = 16 << 20

var partEscaper = strings.NewReplacer("%", "%25", "/", "%2F", "\\", "%5C")

// WriteSession writes one transcript as an indented JSON array.
func WriteSession(w io.Writer, t session.Transcript) error {
	if t == nil {
		t = session.Transcript{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	return nil
}

// EntryName is the archive path of one session: <guild>/<user>/<session>.json. Each part is
// percent-escaped so that it stays inside its directory and ReadArchive recovers it exactly.
func EntryName(k session.Key) string {
	return escapePart(k.GuildID) + "/" + escapePart(k.UserID) + "/" + escapePart(k.Name) + ".json"
}

func escapePart(part string) string {
	part = partEscaper.Replace(part)
	if part == "." || part == ".." {
		part = strings.ReplaceAll(part, ".", "%2E")
	}
	return part
}

// WriteArchive writes every session of e into a zip archive, one file per session, in key order.
func WriteArchive(w io.Writer, e session.Export) error {
	zw := zip.NewWriter(w)

	for _, k := range Keys(e) {
		f, err := zw.Create(EntryName(k))
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", k, err)
		}
		if err := WriteSession(f, e[k.GuildID][k.UserID][k.Name]); err != nil {
			return err
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// ReadArchive reads an archive written by WriteArchive. Entries whose path is not
// <guild>/<user>/<session>.json or whose content is not a valid transcript are rejected.
func ReadArchive(data []byte) (session.Export, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	out := make(session.Export)
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		parts := strings.Split(f.Name, "/")
		if len(parts) != 3 || !strings.HasSuffix(parts[2], ".json") {
			return nil, fmt.Errorf("unexpected archive entry %q", f.Name)
		}
		var key session.Key
		for i, dst := range []*string{&key.GuildID, &key.UserID, &key.Name} {
			part := parts[i]
			if i == 2 {
				part = strings.TrimSuffix(part, ".json")
			}
			if *dst, err = url.PathUnescape(part); err != nil {
				return nil, fmt.Errorf("archive entry %q: %w", f.Name, err)
			}
		}
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("archive entry %q: %w", f.Name, err)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %q: %w", f.Name, err)
		}
		raw, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read %q: %w", f.Name, err)
		}
		if len(raw) > MaxEntrySize {
			return nil, fmt.Errorf("archive entry %q exceeds %d bytes", f.Name, MaxEntrySize)
		}

		t, err := session.ParseTranscript(raw)
		if err != nil {
			return nil, fmt.Errorf("archive entry %q: %w", f.Name, err)
		}
		out.Add(key, t)
	}
	return out, nil
}

// ArchiveName returns a unique archive file name for a user's export.
func ArchiveName(userID string) (string, error) {
	id, err := gonanoid.Generate(idAlphabet, 10)
	if err != nil {
		return "", fmt.Errorf("failed to generate archive id: %w", err)
	}
	if userID == "" {
		return fmt.Sprintf("sessions_all_%s.zip", id), nil
	}
	return fmt.Sprintf("sessions_%s_%s.zip", escapePart(userID), id), nil
}

// FilterUser returns the part of e that belongs to userID, across guilds.
func FilterUser(e session.Export, userID string) session.Export {
	out := make(session.Export)
	for guildID, users := range e {
		for name, t := range users[userID] {
			out.Add(session.NewKey(guildID, userID, name), t)
		}
	}
	return out
}

// Keys returns every session key in e, sorted by guild, user and name.
func Keys(e session.Export) []session.Key {
	var keys []session.Key
	for guildID, users := range e {
		for userID, sessions := range users {
			for name := range sessions {
				keys = append(keys, session.NewKey(guildID, userID, name))
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.GuildID != b.GuildID {
			return a.GuildID < b.GuildID
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Name < b.Name
	})
	return keys
}
