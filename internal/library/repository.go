package library

import (
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/colmturner/sonos-fleet-go/internal/db"
)

// Repository provides catalogue access over the shared database pair.
type Repository struct {
	pair          *db.DBPair
	trackPrefix   string
	minSearchWord int
}

func NewRepository(pair *db.DBPair, trackPrefix string, minSearchWord int) *Repository {
	if minSearchWord <= 0 {
		minSearchWord = 3
	}
	return &Repository{pair: pair, trackPrefix: trackPrefix, minSearchWord: minSearchWord}
}

// TrackPrefix returns the URL prefix local library tracks live under.
func (r *Repository) TrackPrefix() string { return r.trackPrefix }

// Locate returns the media record for url, creating a bare record of
// the classified kind if the URL has never been seen. Track URLs are
// only created by the scanner; an unknown track URL comes back as a
// bare record too so playback state can still refer to it.
func (r *Repository) Locate(url string) (Media, error) {
	media, err := r.mediaByURL(url)
	if err == nil {
		return media, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Media{}, err
	}

	kind := ClassifyURL(url, r.trackPrefix)
	res, err := r.pair.Writer().Exec(
		"INSERT INTO media (url, kind) VALUES (?, ?) ON CONFLICT(url) DO NOTHING",
		url, string(kind),
	)
	if err != nil {
		return Media{}, fmt.Errorf("insert media %q: %w", url, err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		return Media{ID: id, URL: url, Kind: kind}, nil
	}
	return r.mediaByURL(url)
}

func (r *Repository) mediaByURL(url string) (Media, error) {
	var m Media
	var kind string
	var title, artist sql.NullString
	var albumID, artworkID sql.NullInt64
	var trackNo sql.NullInt64
	err := r.pair.Reader().QueryRow(
		"SELECT id, url, kind, title, artist, album_id, track_no, artwork_id FROM media WHERE url = ?",
		url,
	).Scan(&m.ID, &m.URL, &kind, &title, &artist, &albumID, &trackNo, &artworkID)
	if err != nil {
		return Media{}, err
	}
	m.Kind = MediaKind(kind)
	m.Title = title.String
	m.Artist = artist.String
	m.AlbumID = albumID.Int64
	m.TrackNo = int(trackNo.Int64)
	m.ArtworkID = artworkID.Int64
	return m, nil
}

// Album loads an album and its tracks in track order.
func (r *Repository) Album(id int64) (Album, error) {
	var a Album
	var title, artist, genre sql.NullString
	var year sql.NullInt64
	err := r.pair.Reader().QueryRow(
		"SELECT id, dir, hash, title, artist, genre, year FROM albums WHERE id = ?", id,
	).Scan(&a.ID, &a.Dir, &a.Hash, &title, &artist, &genre, &year)
	if err != nil {
		return Album{}, err
	}
	a.Title = title.String
	a.Artist = artist.String
	a.Genre = genre.String
	a.Year = int(year.Int64)

	rows, err := r.pair.Reader().Query(
		"SELECT id, url, kind, title, artist, album_id, track_no, artwork_id FROM media WHERE album_id = ? ORDER BY track_no",
		id,
	)
	if err != nil {
		return Album{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var m Media
		var kind string
		var mtitle, martist sql.NullString
		var albumID, artworkID, trackNo sql.NullInt64
		if err := rows.Scan(&m.ID, &m.URL, &kind, &mtitle, &martist, &albumID, &trackNo, &artworkID); err != nil {
			return Album{}, err
		}
		m.Kind = MediaKind(kind)
		m.Title = mtitle.String
		m.Artist = martist.String
		m.AlbumID = albumID.Int64
		m.TrackNo = int(trackNo.Int64)
		m.ArtworkID = artworkID.Int64
		a.Tracks = append(a.Tracks, m)
	}
	return a, rows.Err()
}

// Search returns albums matching all words of the query, ranked by
// artist then title. Words shorter than the configured minimum are
// ignored; an effectively empty query returns no results.
func (r *Repository) Search(query string) ([]Album, error) {
	words := splitWords(query, r.minSearchWord)
	if len(words) == 0 {
		return nil, nil
	}

	// Intersect the posting lists word by word.
	var ids map[int64]struct{}
	for _, word := range words {
		rows, err := r.pair.Reader().Query(
			"SELECT album_id FROM search_words WHERE word >= ? AND word < ?",
			word, word+"￿",
		)
		if err != nil {
			return nil, err
		}
		found := make(map[int64]struct{})
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			if ids == nil {
				found[id] = struct{}{}
			} else if _, ok := ids[id]; ok {
				found[id] = struct{}{}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
		ids = found
		if len(ids) == 0 {
			return nil, nil
		}
	}

	albums := make([]Album, 0, len(ids))
	for id := range ids {
		album, err := r.Album(id)
		if err != nil {
			return nil, err
		}
		albums = append(albums, album)
	}
	sort.Slice(albums, func(i, j int) bool {
		if albums[i].Artist != albums[j].Artist {
			return albums[i].Artist < albums[j].Artist
		}
		return albums[i].Title < albums[j].Title
	})
	return albums, nil
}

// Artwork returns the stored image bytes for an artwork id.
func (r *Repository) Artwork(id int64) ([]byte, error) {
	var image []byte
	err := r.pair.Reader().QueryRow("SELECT image FROM artwork WHERE id = ?", id).Scan(&image)
	if err != nil {
		return nil, err
	}
	return image, nil
}

// albumHash returns the stored content hash for a directory, or ""
// when the directory is not yet indexed.
func (r *Repository) albumHash(dir string) (string, error) {
	var hash string
	err := r.pair.Reader().QueryRow("SELECT hash FROM albums WHERE dir = ?", dir).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// replaceAlbum atomically swaps an album's record, tracks, artwork
// reference and word index entries.
func (r *Repository) replaceAlbum(album Album, artwork []byte) error {
	tx, err := r.pair.Writer().Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Delete cascades to media and search_words.
	if _, err := tx.Exec("DELETE FROM albums WHERE dir = ?", album.Dir); err != nil {
		return fmt.Errorf("delete album: %w", err)
	}

	res, err := tx.Exec(
		"INSERT INTO albums (dir, hash, title, artist, genre, year) VALUES (?, ?, ?, ?, ?, ?)",
		album.Dir, album.Hash, album.Title, album.Artist, album.Genre, album.Year,
	)
	if err != nil {
		return fmt.Errorf("insert album: %w", err)
	}
	albumID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	var artworkID sql.NullInt64
	if len(artwork) > 0 {
		id, err := upsertArtwork(tx, artwork)
		if err != nil {
			return err
		}
		artworkID = sql.NullInt64{Int64: id, Valid: true}
	}

	for _, track := range album.Tracks {
		_, err := tx.Exec(
			`INSERT INTO media (url, kind, title, artist, album_id, track_no, artwork_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(url) DO UPDATE SET
			   kind = excluded.kind, title = excluded.title, artist = excluded.artist,
			   album_id = excluded.album_id, track_no = excluded.track_no, artwork_id = excluded.artwork_id`,
			track.URL, string(KindTrack), track.Title, track.Artist, albumID, track.TrackNo, artworkID,
		)
		if err != nil {
			return fmt.Errorf("insert track %q: %w", track.URL, err)
		}
	}

	for _, word := range indexWords(album, r.minSearchWord) {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO search_words (word, album_id) VALUES (?, ?)",
			word, albumID,
		); err != nil {
			return fmt.Errorf("index word %q: %w", word, err)
		}
	}

	return tx.Commit()
}

// removeAlbum drops a directory's album and everything hanging off it.
func (r *Repository) removeAlbum(dir string) error {
	_, err := r.pair.Writer().Exec("DELETE FROM albums WHERE dir = ?", dir)
	return err
}

func upsertArtwork(tx *sql.Tx, image []byte) (int64, error) {
	hash := contentHash(image)
	var id int64
	err := tx.QueryRow("SELECT id FROM artwork WHERE hash = ?", hash).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := tx.Exec("INSERT INTO artwork (hash, image) VALUES (?, ?)", hash, image)
	if err != nil {
		return 0, fmt.Errorf("insert artwork: %w", err)
	}
	return res.LastInsertId()
}

// indexWords yields the distinct searchable words of an album.
func indexWords(album Album, minLen int) []string {
	seen := make(map[string]struct{})
	for _, source := range []string{album.Title, album.Artist, album.Genre} {
		for _, word := range splitWords(source, minLen) {
			seen[word] = struct{}{}
		}
	}
	words := make([]string, 0, len(seen))
	for word := range seen {
		words = append(words, word)
	}
	sort.Strings(words)
	return words
}

// splitWords lowercases and splits text into words of at least minLen
// runes, stripping everything but letters and digits.
func splitWords(text string, minLen int) []string {
	var words []string
	for _, raw := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isWordRune(r)
	}) {
		if len([]rune(raw)) >= minLen {
			words = append(words, raw)
		}
	}
	return words
}

func isWordRune(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 0x80
}
