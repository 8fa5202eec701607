package main

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMemberNotFound = errors.New("member not found")
	ErrPhotoNotFound  = errors.New("photo not found")
)

type Photo struct {
	ID    string `json:"id" yaml:"id"`
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
	Date  string `json:"date,omitempty" yaml:"date,omitempty"`
}

// Member is one person in the family tree.
type Member struct {
	ID            string        `json:"id" yaml:"id"`
	Name          string        `json:"name" yaml:"name"`
	FullName      string        `json:"fullName,omitempty" yaml:"full_name,omitempty"`
	Relation      string        `json:"relation" yaml:"relation"`
	Generation    int           `json:"generation" yaml:"generation"`
	Age           int           `json:"age,omitempty" yaml:"age,omitempty"`
	BirthDate     string        `json:"birthDate,omitempty" yaml:"birth_date,omitempty"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Children      []string      `json:"children,omitempty" yaml:"children,omitempty"`
	Photo         string        `json:"photo,omitempty" yaml:"photo,omitempty"`
	Deceased      bool          `json:"deceased,omitempty" yaml:"deceased,omitempty"`
	MemorialStyle MemorialStyle `json:"memorialStyle,omitempty" yaml:"memorial_style,omitempty"`
	Gallery       []Photo       `json:"gallery,omitempty" yaml:"gallery,omitempty"`
}

func (m Member) clone() Member {
	m.Children = slices.Clone(m.Children)
	m.Gallery = slices.Clone(m.Gallery)
	return m
}

// Theme returns the memorial theme for deceased members.
func (m Member) Theme() (MemorialTheme, bool) {
	if !m.Deceased {
		return MemorialTheme{}, false
	}
	return m.MemorialStyle.Theme(), true
}

// MemorialStyle selects how a deceased member's card is decorated.
type MemorialStyle string

const (
	MemorialDefault MemorialStyle = ""
	MemorialCross   MemorialStyle = "cross"
	MemorialEternal MemorialStyle = "eternal"
	MemorialHeart   MemorialStyle = "heart"
	MemorialLegacy  MemorialStyle = "legacy"
	MemorialGlory   MemorialStyle = "glory"
)

type MemorialTheme struct {
	Badge        string `json:"badge"`
	Accent       string `json:"accent"`
	TextColor    string `json:"textColor"`
	SubTextColor string `json:"subTextColor"`
	NameSymbol   string `json:"nameSymbol,omitempty"`
}

var defaultMemorialTheme = MemorialTheme{
	Badge:        "✞ Покоится с миром",
	Accent:       "gray",
	TextColor:    "text-gray-600",
	SubTextColor: "text-gray-500",
}

var memorialThemes = map[MemorialStyle]MemorialTheme{
	MemorialCross: {
		Badge:        "♥",
		Accent:       "gray",
		TextColor:    "text-gray-600",
		SubTextColor: "text-gray-500",
		NameSymbol:   "✝",
	},
	MemorialEternal: {
		Badge:        "★ Вечная память",
		Accent:       "amber",
		TextColor:    "text-amber-800 font-semibold",
		SubTextColor: "text-amber-700",
		NameSymbol:   "⭐",
	},
	MemorialHeart: {
		Badge:        "В наших сердцах",
		Accent:       "purple",
		TextColor:    "text-purple-800 font-semibold",
		SubTextColor: "text-purple-700",
		NameSymbol:   "🌸",
	},
	MemorialLegacy: {
		Badge:        "◆ Светлая память",
		Accent:       "yellow",
		TextColor:    "text-yellow-600 font-bold",
		SubTextColor: "text-yellow-700",
		NameSymbol:   "✦",
	},
	MemorialGlory: {
		Badge:        "♔ Вечная слава",
		Accent:       "amber",
		TextColor:    "text-amber-400 font-extrabold",
		SubTextColor: "text-amber-500",
		NameSymbol:   "♛",
	},
}

// Theme returns the decoration for the style, falling back to the
// default theme for unknown or empty styles.
func (s MemorialStyle) Theme() MemorialTheme {
	if t, ok := memorialThemes[s]; ok {
		return t
	}
	return defaultMemorialTheme
}

func (s *MemorialStyle) UnmarshalText(text []byte) error {
	style := MemorialStyle(strings.ToLower(strings.TrimSpace(string(text))))
	if _, ok := memorialThemes[style]; !ok && style != MemorialDefault {
		return fmt.Errorf("unknown memorial style %q", style)
	}
	*s = style
	return nil
}

type Generation struct {
	Level int    `json:"generation"`
	Title string `json:"title"`
}

var Generations = []Generation{
	{Level: -2, Title: "Далекие предки"},
	{Level: -1, Title: "Предки"},
	{Level: 0, Title: "Старшее поколение"},
	{Level: 1, Title: "Родители"},
	{Level: 2, Title: "Наше поколение"},
}

// GenerationText renders the generation label shown on a member card.
func GenerationText(generation int) string {
	if generation < 0 {
		return fmt.Sprintf("Прошлое поколение: %d", -generation)
	}
	return fmt.Sprintf("Поколение: %d-е", generation+1)
}

// Store is the in-memory family member list. It is owned by the caller
// and shared with the handlers that need it.
type Store struct {
	mu      sync.RWMutex
	members []Member
	now     func() time.Time
}

// NewStore returns a store holding copies of the seed members.
func NewStore(seed []Member) *Store {
	members := make([]Member, len(seed))
	for i, m := range seed {
		members[i] = m.clone()
	}
	return &Store{members: members, now: time.Now}
}

// List returns all members in seed order.
func (s *Store) List() []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, len(s.members))
	for i, m := range s.members {
		out[i] = m.clone()
	}
	return out
}

// Get returns a copy of the member with the given id.
func (s *Store) Get(id string) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexOf(id)
	if i < 0 {
		return Member{}, fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	return s.members[i].clone(), nil
}

// Update replaces the member with the same ID.
func (s *Store) Update(m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(m.ID)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, m.ID)
	}
	s.members[i] = m.clone()
	return nil
}

// GenerationMembers returns the members of one generation in seed order.
func (s *Store) GenerationMembers(generation int) []Member {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Member
	for _, m := range s.members {
		if m.Generation == generation {
			out = append(out, m.clone())
		}
	}
	return out
}

// SetPhoto replaces the member's avatar.
func (s *Store) SetPhoto(id, photo string) error {
	return s.modify(id, func(m *Member) error {
		m.Photo = photo
		return nil
	})
}

// AddPhoto appends a gallery photo, filling in an ID, a default title
// and today's date where missing.
func (s *Store) AddPhoto(id string, p Photo) (Photo, error) {
	if strings.TrimSpace(p.URL) == "" {
		return Photo{}, errors.New("photo url is required")
	}
	if p.ID == "" {
		p.ID = "photo-" + uuid.NewString()
	}
	if p.Title == "" {
		p.Title = "Новое фото"
	}
	if p.Date == "" {
		p.Date = s.now().Format(time.DateOnly)
	}
	err := s.modify(id, func(m *Member) error {
		m.Gallery = append(m.Gallery, p)
		return nil
	})
	return p, err
}

// DeletePhoto removes a gallery photo from the member.
func (s *Store) DeletePhoto(id, photoID string) error {
	return s.modify(id, func(m *Member) error {
		i := slices.IndexFunc(m.Gallery, func(p Photo) bool { return p.ID == photoID })
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrPhotoNotFound, photoID)
		}
		m.Gallery = slices.Delete(m.Gallery, i, i+1)
		return nil
	})
}

// Photos returns the member's gallery sorted newest first.
func (s *Store) Photos(id string) ([]Photo, error) {
	m, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(m.Gallery, func(i, j int) bool {
		return m.Gallery[i].Date > m.Gallery[j].Date
	})
	return m.Gallery, nil
}

func (s *Store) modify(id string, fn func(m *Member) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrMemberNotFound, id)
	}
	m := s.members[i].clone()
	if err := fn(&m); err != nil {
		return err
	}
	s.members[i] = m
	return nil
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.members, func(m Member) bool { return m.ID == id })
}

func unsplash(id string) string {
	return "https://images.unsplash.com/photo-" + id + "?w=150&h=150&fit=crop&crop=face"
}

// DefaultMembers is the family the application starts with when no seed
// file is configured.
func DefaultMembers() []Member {
	return []Member{
		{ID: "1", Name: "Дедушка Иван", Relation: "Дедушка", Generation: 0, Age: 78, Photo: unsplash("1507003211169-0a1dd7228f2d")},
		{ID: "2", Name: "Бабушка Мария", Relation: "Бабушка", Generation: 0, Age: 75, Photo: unsplash("1544005313-94ddf0286df2")},
		{ID: "7", Name: "Дедушка Петр", Relation: "Дедушка", Generation: 0, Deceased: true, MemorialStyle: MemorialCross, Photo: unsplash("1560250097-0b93528c311a")},
		{ID: "8", Name: "Бабушка Анна", Relation: "Бабушка", Generation: 0, Deceased: true, BirthDate: "1925-1998", Photo: unsplash("1559839734-2b71ea197ec2")},
		{ID: "9", Name: "Дядя Владимир", Relation: "Дядя", Generation: 1, Deceased: true, MemorialStyle: MemorialEternal, BirthDate: "1960-2010", Description: "Военный офицер", Photo: unsplash("1507003211169-0a1dd7228f2d")},
		{ID: "3", Name: "Папа Алексей", Relation: "Отец", Generation: 1, Age: 52, Children: []string{"5", "6"}, Photo: unsplash("1472099645785-5658abf4ff4e")},
		{ID: "4", Name: "Мама Елена", Relation: "Мать", Generation: 1, Age: 48, Children: []string{"5", "6"}, Photo: unsplash("1494790108755-2616b332c5d6")},
		{ID: "5", Name: "Я", Relation: "Сын/Дочь", Generation: 2, Age: 25, Photo: unsplash("1535713875002-d1d0cf377fde")},
		{ID: "6", Name: "Брат Михаил", Relation: "Брат", Generation: 2, Age: 22, Photo: unsplash("1599566150163-29194dcaad36")},
		{ID: "10", Name: "Прадедушка Николай", Relation: "Прадедушка", Generation: -1, Deceased: true, MemorialStyle: MemorialHeart, BirthDate: "1890-1965", Description: "Ветеран войны", Photo: unsplash("1472099645785-5658abf4ff4e")},
		{ID: "11", Name: "Прабабушка Елена", Relation: "Прабабушка", Generation: -1, Deceased: true, MemorialStyle: MemorialLegacy, BirthDate: "1895-1970", Description: "Учительница", Photo: unsplash("1438761681033-6461ffad8d80")},
		{ID: "12", Name: "Прапрадедушка Иван", Relation: "Прапрадедушка", Generation: -2, Deceased: true, MemorialStyle: MemorialGlory, BirthDate: "1850-1920", Description: "Основатель рода", Photo: unsplash("1507003211169-0a1dd7228f2d")},
	}
}
