package mapdata

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/paulmach/orb/encoding/wkb"
	"github.com/pkg/errors"
	_ "github.com/shaxbee/go-spatialite"
	log "github.com/sirupsen/logrus"

	"maprender/tile"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SpatiaLite serves tiles from a table with the columns
//
//	tags  TEXT     -- JSON object of string tags
//	geom  GEOMETRY -- SRID 4326
//
// Rows are selected with a bounding box query against geom.
type SpatiaLite struct {
	db    *sql.DB
	query string
}

// OpenSpatiaLite opens the database at dsn and reads features from table.
func OpenSpatiaLite(dsn, table string) (*SpatiaLite, error) {
	db, err := sql.Open("spatialite", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dsn)
	}
	s, err := NewSpatiaLite(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSpatiaLite reads features from table of an open spatialite database.
func NewSpatiaLite(db *sql.DB, table string) (*SpatiaLite, error) {
	if !identifier.MatchString(table) {
		return nil, errors.Errorf("invalid table name %q", table)
	}
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "ping")
	}
	return &SpatiaLite{
		db: db,
		query: fmt.Sprintf(
			"SELECT tags, ST_AsBinary(geom) FROM %s WHERE MbrIntersects(geom, BuildMbr(?, ?, ?, ?, 4326))",
			table),
	}, nil
}

// ReadMapData queries the rows intersecting t.
func (s *SpatiaLite) ReadMapData(ctx context.Context, t tile.Tile) (*ReadResult, error) {
	c := newCollector(t)
	b := c.clipBound
	rows, err := s.db.QueryContext(ctx, s.query, b.Min.X(), b.Min.Y(), b.Max.X(), b.Max.Y())
	if err != nil {
		return nil, errors.Wrapf(err, "query tile %s", t)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rawTags sql.NullString
			rawGeom []byte
		)
		if err := rows.Scan(&rawTags, &rawGeom); err != nil {
			return nil, errors.Wrapf(err, "scan tile %s", t)
		}
		tags := Tags{}
		if rawTags.Valid && rawTags.String != "" {
			if err := json.Unmarshal([]byte(rawTags.String), &tags); err != nil {
				log.WithField("tile", t).Warnf("invalid tags %q: %s", rawTags.String, err)
				continue
			}
		}
		geom, err := wkb.Unmarshal(rawGeom)
		if err != nil {
			log.WithField("tile", t).Warnf("invalid geometry: %s", err)
			continue
		}
		c.add(tags, geom)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "read tile %s", t)
	}
	return c.finish(), nil
}

func (s *SpatiaLite) Close() error {
	return s.db.Close()
}
