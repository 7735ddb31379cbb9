package library

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhowden/tag"
)

var audioExts = map[string]bool{
	".flac": true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".wav":  true,
	".aiff": true,
}

var artworkNames = []string{"cover.jpg", "cover.png", "folder.jpg", "folder.png"}

// Scanner indexes the on-disk music library into the catalogue. Each
// leaf directory containing audio files is treated as one album. A
// directory is re-read only when its content hash (file names, sizes
// and mtimes) differs from the stored one.
type Scanner struct {
	repo   *Repository
	root   string
	prefix string // URL prefix tracks are served under
	logger *log.Logger
}

func NewScanner(repo *Repository, root, prefix string, logger *log.Logger) *Scanner {
	return &Scanner{repo: repo, root: root, prefix: prefix, logger: logger}
}

// albumMetadata is the optional per-directory metadata.json sidecar.
// Its values win over embedded tags.
type albumMetadata struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	Genre  string `json:"genre"`
	Year   int    `json:"year"`
	Tracks []struct {
		File  string `json:"file"`
		Title string `json:"title"`
	} `json:"tracks"`
}

// Scan walks the whole library root and indexes every album directory
// whose content changed since the last scan.
func (s *Scanner) Scan() error {
	if s.root == "" {
		return nil
	}
	var scanned, updated int
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		changed, scanErr := s.ScanDir(path)
		if scanErr != nil {
			s.logger.Printf("LIBRARY: scan %s failed: %v", path, scanErr)
			return nil
		}
		scanned++
		if changed {
			updated++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", s.root, err)
	}
	s.logger.Printf("LIBRARY: scan complete, %d directories, %d updated", scanned, updated)
	return nil
}

// ScanDir indexes one directory if it holds audio files and its hash
// changed. Returns whether the catalogue was updated.
func (s *Scanner) ScanDir(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			// Directory disappeared since it was indexed.
			return true, s.repo.removeAlbum(s.relDir(dir))
		}
		return false, err
	}

	var audio []fs.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && audioExts[strings.ToLower(filepath.Ext(entry.Name()))] {
			audio = append(audio, entry)
		}
	}
	rel := s.relDir(dir)
	if len(audio) == 0 {
		// Not an album directory (anymore).
		return false, s.repo.removeAlbum(rel)
	}

	hash, err := dirHash(audio)
	if err != nil {
		return false, err
	}
	stored, err := s.repo.albumHash(rel)
	if err != nil {
		return false, err
	}
	if stored == hash {
		return false, nil
	}

	album, artwork, err := s.readAlbum(dir, rel, audio)
	if err != nil {
		return false, err
	}
	album.Hash = hash
	if err := s.repo.replaceAlbum(album, artwork); err != nil {
		return false, fmt.Errorf("store album %s: %w", rel, err)
	}
	s.logger.Printf("LIBRARY: indexed %s (%d tracks)", rel, len(album.Tracks))
	return true, nil
}

func (s *Scanner) relDir(dir string) string {
	rel, err := filepath.Rel(s.root, dir)
	if err != nil {
		return dir
	}
	return filepath.ToSlash(rel)
}

// readAlbum builds the album record from the sidecar file when present,
// falling back to embedded tags per track.
func (s *Scanner) readAlbum(dir, rel string, audio []fs.DirEntry) (Album, []byte, error) {
	album := Album{Dir: rel}

	var sidecar *albumMetadata
	if data, err := os.ReadFile(filepath.Join(dir, "metadata.json")); err == nil {
		var meta albumMetadata
		if err := json.Unmarshal(data, &meta); err != nil {
			s.logger.Printf("LIBRARY: bad metadata.json in %s: %v", rel, err)
		} else {
			sidecar = &meta
			album.Title = meta.Title
			album.Artist = meta.Artist
			album.Genre = meta.Genre
			album.Year = meta.Year
		}
	}

	sort.Slice(audio, func(i, j int) bool { return audio[i].Name() < audio[j].Name() })

	for i, entry := range audio {
		track := Media{
			URL:     s.trackURL(rel, entry.Name()),
			Kind:    KindTrack,
			TrackNo: i + 1,
		}
		meta, err := readTags(filepath.Join(dir, entry.Name()))
		if err == nil {
			track.Title = meta.Title()
			track.Artist = meta.Artist()
			if no, _ := meta.Track(); no > 0 {
				track.TrackNo = no
			}
			if album.Title == "" {
				album.Title = meta.Album()
			}
			if album.Artist == "" {
				album.Artist = meta.AlbumArtist()
				if album.Artist == "" {
					album.Artist = meta.Artist()
				}
			}
			if album.Genre == "" {
				album.Genre = meta.Genre()
			}
			if album.Year == 0 {
				album.Year = meta.Year()
			}
		}
		if sidecar != nil {
			for _, st := range sidecar.Tracks {
				if st.File == entry.Name() && st.Title != "" {
					track.Title = st.Title
				}
			}
		}
		if track.Title == "" {
			track.Title = strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		}
		album.Tracks = append(album.Tracks, track)
	}

	if album.Title == "" {
		album.Title = filepath.Base(rel)
	}

	sort.Slice(album.Tracks, func(i, j int) bool { return album.Tracks[i].TrackNo < album.Tracks[j].TrackNo })

	var artwork []byte
	for _, name := range artworkNames {
		if data, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			artwork = data
			break
		}
	}

	return album, artwork, nil
}

func (s *Scanner) trackURL(rel, name string) string {
	prefix := strings.TrimSuffix(s.prefix, "/")
	if rel == "." {
		return prefix + "/" + name
	}
	return prefix + "/" + rel + "/" + name
}

func readTags(path string) (tag.Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return tag.ReadFrom(f)
}

// dirHash fingerprints a directory's audio content by name, size and
// mtime so unchanged albums are skipped without reading the files.
func dirHash(audio []fs.DirEntry) (string, error) {
	h := sha256.New()
	for _, entry := range audio {
		info, err := entry.Info()
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s|%d|%d\n", entry.Name(), info.Size(), info.ModTime().UnixNano())
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
