// Package categories holds the standard Newznab category tree and the
// per-indexer maps that translate site category tokens into it.
package categories

import (
	"sort"
	"strconv"
)

// Category is one entry of the standard category tree.
type Category struct {
	ID            int        `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description,omitempty"`
	Parent        int        `json:"parent,omitempty"`
	SubCategories []Category `json:"subCategories,omitempty"`
}

// IsParent reports whether the category is a top-level category.
func (c Category) IsParent() bool {
	return c.Parent == 0
}

// Standard Newznab Categories
// https://newznab.readthedocs.io/en/latest/misc/api/#predefined-categories
const (
	// Main categories
	Console = 1000
	Movies  = 2000
	Audio   = 3000
	PC      = 4000
	TV      = 5000
	XXX     = 6000
	Books   = 7000
	Other   = 8000

	ConsoleNDS     = 1010
	ConsolePSP     = 1020
	ConsoleWii     = 1030
	ConsoleXBox    = 1040
	ConsoleXBox360 = 1050
	ConsoleWiiware = 1060
	ConsoleXBoxDLC = 1070
	ConsolePS3     = 1080
	ConsoleOther   = 1090
	Console3DS     = 1110
	ConsolePSVita  = 1120
	ConsoleWiiU    = 1130
	ConsoleXBoxOne = 1140
	ConsolePS4     = 1180

	MoviesForeign = 2010
	MoviesOther   = 2020
	MoviesSD      = 2030
	MoviesHD      = 2040
	MoviesUHD     = 2045
	MoviesBluRay  = 2050
	Movies3D      = 2060
	MoviesDVD     = 2070
	MoviesWebDL   = 2080

	AudioMP3       = 3010
	AudioVideo     = 3020
	AudioAudiobook = 3030
	AudioLossless  = 3040
	AudioOther     = 3050
	AudioForeign   = 3060

	PC0day          = 4010
	PCISO           = 4020
	PCMac           = 4030
	PCMobileOther   = 4040
	PCGames         = 4050
	PCMobileIOS     = 4060
	PCMobileAndroid = 4070

	TVWebDL       = 5010
	TVForeign     = 5020
	TVSD          = 5030
	TVHD          = 5040
	TVUHD         = 5045
	TVOther       = 5050
	TVSport       = 5060
	TVAnime       = 5070
	TVDocumentary = 5080

	XXXDVD      = 6010
	XXXWMV      = 6020
	XXXXviD     = 6030
	XXXx264     = 6040
	XXXUHD      = 6045
	XXXPack     = 6050
	XXXImageSet = 6060
	XXXOther    = 6070
	XXXSD       = 6080
	XXXWEBDL    = 6090

	BooksMags      = 7010
	BooksEBook     = 7020
	BooksComics    = 7030
	BooksTechnical = 7040
	BooksOther     = 7050
	BooksForeign   = 7060

	OtherMisc   = 8010
	OtherHashed = 8020
)

var names = map[int]string{
	Console: "Console", ConsoleNDS: "Console/NDS", ConsolePSP: "Console/PSP", ConsoleWii: "Console/Wii",
	ConsoleXBox: "Console/XBox", ConsoleXBox360: "Console/XBox 360", ConsoleWiiware: "Console/Wiiware",
	ConsoleXBoxDLC: "Console/XBox 360 DLC", ConsolePS3: "Console/PS3", ConsoleOther: "Console/Other",
	Console3DS: "Console/3DS", ConsolePSVita: "Console/PS Vita", ConsoleWiiU: "Console/WiiU",
	ConsoleXBoxOne: "Console/XBox One", ConsolePS4: "Console/PS4",

	Movies: "Movies", MoviesForeign: "Movies/Foreign", MoviesOther: "Movies/Other", MoviesSD: "Movies/SD",
	MoviesHD: "Movies/HD", MoviesUHD: "Movies/UHD", MoviesBluRay: "Movies/BluRay", Movies3D: "Movies/3D",
	MoviesDVD: "Movies/DVD", MoviesWebDL: "Movies/WEB-DL",

	Audio: "Audio", AudioMP3: "Audio/MP3", AudioVideo: "Audio/Video", AudioAudiobook: "Audio/Audiobook",
	AudioLossless: "Audio/Lossless", AudioOther: "Audio/Other", AudioForeign: "Audio/Foreign",

	PC: "PC", PC0day: "PC/0day", PCISO: "PC/ISO", PCMac: "PC/Mac", PCMobileOther: "PC/Mobile-Other",
	PCGames: "PC/Games", PCMobileIOS: "PC/Mobile-iOS", PCMobileAndroid: "PC/Mobile-Android",

	TV: "TV", TVWebDL: "TV/WEB-DL", TVForeign: "TV/Foreign", TVSD: "TV/SD", TVHD: "TV/HD", TVUHD: "TV/UHD",
	TVOther: "TV/Other", TVSport: "TV/Sport", TVAnime: "TV/Anime", TVDocumentary: "TV/Documentary",

	XXX: "XXX", XXXDVD: "XXX/DVD", XXXWMV: "XXX/WMV", XXXXviD: "XXX/XviD", XXXx264: "XXX/x264",
	XXXUHD: "XXX/UHD", XXXPack: "XXX/Pack", XXXImageSet: "XXX/ImageSet", XXXOther: "XXX/Other",
	XXXSD: "XXX/SD", XXXWEBDL: "XXX/WEB-DL",

	Books: "Books", BooksMags: "Books/Mags", BooksEBook: "Books/EBook", BooksComics: "Books/Comics",
	BooksTechnical: "Books/Technical", BooksOther: "Books/Other", BooksForeign: "Books/Foreign",

	Other: "Other", OtherMisc: "Other/Misc", OtherHashed: "Other/Hashed",
}

// ParentOf returns the top-level category id for id. Ids outside the
// standard thousand-blocks (site-specific custom ids) are their own parent.
func ParentOf(id int) int {
	if id < Console || id >= 100000 {
		return id
	}
	return id - id%1000
}

// Lookup returns the standard category for id.
func Lookup(id int) (Category, bool) {
	name, ok := names[id]
	if !ok {
		return Category{}, false
	}
	c := Category{ID: id, Name: name}
	if parent := ParentOf(id); parent != id {
		c.Parent = parent
	}
	return c, true
}

// MustLookup is Lookup for ids known at compile time.
func MustLookup(id int) Category {
	c, ok := Lookup(id)
	if !ok {
		panic("categories: unknown standard category " + strconv.Itoa(id))
	}
	return c
}

// Name returns a human-readable name for a category.
func Name(id int) string {
	if name, ok := names[id]; ok {
		return name
	}
	return "Unknown"
}

// Tree returns every standard parent category with its children, ordered by id.
func Tree() []Category {
	parents := make(map[int]*Category)
	for id := range names {
		if ParentOf(id) == id {
			c := MustLookup(id)
			parents[id] = &c
		}
	}
	for id := range names {
		if p := ParentOf(id); p != id {
			parents[p].SubCategories = append(parents[p].SubCategories, MustLookup(id))
		}
	}

	tree := make([]Category, 0, len(parents))
	for _, p := range parents {
		sort.Slice(p.SubCategories, func(i, j int) bool { return p.SubCategories[i].ID < p.SubCategories[j].ID })
		tree = append(tree, *p)
	}
	sort.Slice(tree, func(i, j int) bool { return tree[i].ID < tree[j].ID })
	return tree
}

// IsMovie returns true if the category is a movie category.
func IsMovie(id int) bool {
	return id >= Movies && id < Audio
}

// IsTV returns true if the category is a TV category.
func IsTV(id int) bool {
	return id >= TV && id < XXX
}

// IsBook returns true if the category is a book category, audiobooks included.
func IsBook(id int) bool {
	return (id >= Books && id < Other) || id == AudioAudiobook
}
