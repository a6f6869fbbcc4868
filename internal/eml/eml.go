// Package eml parses Ecological Metadata Language documents into the
// fields the import pipeline stores: titles, identifiers, coverage,
// rights, parties, keywords and project context.
package eml

import (
	"encoding/xml"
	"fmt"
	"strings"
	"time"

	"github.com/polarbio/occurharvest/internal/errors"
)

// Party is one named person or organization with its party type (creator,
// contact, personnel, ...) and optional role.
type Party struct {
	Type         string
	Role         string
	GivenName    string
	Surname      string
	Organization string
	Email        string
	Position     string
}

// FullName joins the name parts the way the document presented them.
func (p *Party) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.GivenName) + " " + strings.TrimSpace(p.Surname))
}

// KeywordSet is one thesaurus with its keywords.
type KeywordSet struct {
	Thesaurus string
	Keywords  []string
}

// Project is the research project section of a document.
type Project struct {
	Title     string
	Funding   string
	Personnel []Party
}

// BoundingBox is the geographic coverage in decimal degrees.
type BoundingBox struct {
	West  float64
	East  float64
	North float64
	South float64
}

// worldBox covers the whole globe; used when a document declares no
// geographic coverage so every dataset still has a searchable extent.
var worldBox = BoundingBox{West: -180, East: 180, North: 90, South: -90}

// WKT renders the box as a polygon in well known text, counterclockwise
// from the southwest corner.
func (b BoundingBox) WKT() string {
	return fmt.Sprintf("POLYGON((%g %g,%g %g,%g %g,%g %g,%g %g))",
		b.West, b.South, b.East, b.South, b.East, b.North, b.West, b.North, b.West, b.South)
}

// Metadata holds the parsed document fields.
type Metadata struct {
	PackageID            string
	Title                string
	AlternateIdentifiers []string
	DOI                  string
	PubDate              *time.Time
	DateStamp            *time.Time
	Abstract             string
	IntellectualRights   string
	Citation             string
	BoundingBox          BoundingBox
	KeywordSets          []KeywordSet
	Parties              []Party
	Project              *Project
}

// document mirrors the XML layout of an EML file.
type document struct {
	XMLName   xml.Name `xml:"eml"`
	PackageID string   `xml:"packageId,attr"`
	Dataset   struct {
		AlternateIdentifiers []string   `xml:"alternateIdentifier"`
		Title                string     `xml:"title"`
		Creators             []xmlParty `xml:"creator"`
		MetadataProviders    []xmlParty `xml:"metadataProvider"`
		AssociatedParties    []xmlParty `xml:"associatedParty"`
		Contacts             []xmlParty `xml:"contact"`
		PubDate              string     `xml:"pubDate"`
		Abstract             paras      `xml:"abstract"`
		IntellectualRights   paras      `xml:"intellectualRights"`
		KeywordSets          []struct {
			Keywords  []string `xml:"keyword"`
			Thesaurus string   `xml:"keywordThesaurus"`
		} `xml:"keywordSet"`
		Coverage struct {
			Geographic []struct {
				Bounds struct {
					West  *float64 `xml:"westBoundingCoordinate"`
					East  *float64 `xml:"eastBoundingCoordinate"`
					North *float64 `xml:"northBoundingCoordinate"`
					South *float64 `xml:"southBoundingCoordinate"`
				} `xml:"boundingCoordinates"`
			} `xml:"geographicCoverage"`
		} `xml:"coverage"`
		Project *struct {
			Title     string     `xml:"title"`
			Funding   paras      `xml:"funding"`
			Personnel []xmlParty `xml:"personnel"`
		} `xml:"project"`
	} `xml:"dataset"`
	Additional struct {
		Metadata struct {
			Gbif struct {
				DateStamp string `xml:"dateStamp"`
				Citation  string `xml:"citation"`
			} `xml:"gbif"`
		} `xml:"metadata"`
	} `xml:"additionalMetadata"`
}

type xmlParty struct {
	Individual struct {
		GivenName string `xml:"givenName"`
		Surname   string `xml:"surName"`
	} `xml:"individualName"`
	Organization string `xml:"organizationName"`
	Position     string `xml:"positionName"`
	Email        string `xml:"electronicMailAddress"`
	Role         string `xml:"role"`
}

// paras flattens nested para elements into one newline joined string.
type paras struct {
	Paras []string `xml:"para"`
	Text  string   `xml:",chardata"`
}

func (p paras) String() string {
	if len(p.Paras) > 0 {
		out := make([]string, 0, len(p.Paras))
		for _, s := range p.Paras {
			if t := strings.TrimSpace(s); t != "" {
				out = append(out, t)
			}
		}
		return strings.Join(out, "\n")
	}
	return strings.TrimSpace(p.Text)
}

// Parse decodes an EML document. Malformed XML is a parsing failure; a well
// formed document with missing sections parses to zero values.
func Parse(data []byte) (*Metadata, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, errors.New(err).
			Component("eml").
			Category(errors.CategoryFileParsing).
			Build()
	}

	md := &Metadata{
		PackageID:          doc.PackageID,
		Title:              strings.TrimSpace(doc.Dataset.Title),
		Abstract:           doc.Dataset.Abstract.String(),
		IntellectualRights: doc.Dataset.IntellectualRights.String(),
		Citation:           strings.TrimSpace(doc.Additional.Metadata.Gbif.Citation),
		BoundingBox:        worldBox,
	}

	for _, id := range doc.Dataset.AlternateIdentifiers {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		md.AlternateIdentifiers = append(md.AlternateIdentifiers, id)
		if md.DOI == "" {
			if doi, ok := parseDOI(id); ok {
				md.DOI = doi
			}
		}
	}

	md.PubDate = parseDate(doc.Dataset.PubDate)
	md.DateStamp = parseDate(doc.Additional.Metadata.Gbif.DateStamp)

	if gc := doc.Dataset.Coverage.Geographic; len(gc) > 0 {
		b := gc[0].Bounds
		if b.West != nil && b.East != nil && b.North != nil && b.South != nil {
			md.BoundingBox = BoundingBox{West: *b.West, East: *b.East, North: *b.North, South: *b.South}
		}
	}

	for _, ks := range doc.Dataset.KeywordSets {
		set := KeywordSet{Thesaurus: strings.TrimSpace(ks.Thesaurus)}
		for _, kw := range ks.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				set.Keywords = append(set.Keywords, kw)
			}
		}
		if len(set.Keywords) > 0 {
			md.KeywordSets = append(md.KeywordSets, set)
		}
	}

	md.Parties = append(md.Parties, convertParties("creator", doc.Dataset.Creators)...)
	md.Parties = append(md.Parties, convertParties("metadataProvider", doc.Dataset.MetadataProviders)...)
	md.Parties = append(md.Parties, convertParties("associatedParty", doc.Dataset.AssociatedParties)...)
	md.Parties = append(md.Parties, convertParties("contact", doc.Dataset.Contacts)...)

	if pr := doc.Dataset.Project; pr != nil {
		md.Project = &Project{
			Title:     strings.TrimSpace(pr.Title),
			Funding:   pr.Funding.String(),
			Personnel: convertParties("personnel", pr.Personnel),
		}
	}

	return md, nil
}

func convertParties(partyType string, in []xmlParty) []Party {
	out := make([]Party, 0, len(in))
	for _, p := range in {
		party := Party{
			Type:         partyType,
			Role:         strings.TrimSpace(p.Role),
			GivenName:    strings.TrimSpace(p.Individual.GivenName),
			Surname:      strings.TrimSpace(p.Individual.Surname),
			Organization: strings.TrimSpace(p.Organization),
			Position:     strings.TrimSpace(p.Position),
			Email:        strings.TrimSpace(p.Email),
		}
		if party.FullName() == "" && party.Organization == "" {
			continue
		}
		out = append(out, party)
	}
	return out
}

// parseDOI normalizes the common DOI notations found in identifiers.
func parseDOI(id string) (string, bool) {
	lower := strings.ToLower(id)
	switch {
	case strings.HasPrefix(lower, "doi:"):
		return strings.TrimSpace(id[4:]), true
	case strings.HasPrefix(lower, "https://doi.org/"):
		return strings.TrimSpace(id[len("https://doi.org/"):]), true
	case strings.HasPrefix(lower, "http://doi.org/"):
		return strings.TrimSpace(id[len("http://doi.org/"):]), true
	case strings.HasPrefix(id, "10."):
		return id, true
	}
	return "", false
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.999",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006",
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
