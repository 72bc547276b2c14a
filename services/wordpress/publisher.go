package wordpress

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/model"
	"github.com/caseproof/memberpress-courses-copilot-sub010/services"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/google/uuid"
	"golang.org/x/net/html"
	"gorm.io/gorm"
)

const (
	postStatusDraft = "draft"
	excerptWords    = 55
)

// Publisher writes MemberPress Courses entities straight into the WordPress
// database. Every Create call is one transaction: the row plus its meta.
type Publisher struct {
	db     *gorm.DB
	prefix string
	log    *utils.Logger
	now    func() time.Time
}

func NewPublisher(db *gorm.DB, tablePrefix string, log *utils.Logger) *Publisher {
	if tablePrefix == "" {
		tablePrefix = "wp_"
	}
	return &Publisher{db: db, prefix: tablePrefix, log: log, now: time.Now}
}

var _ services.CoursePublisher = (*Publisher)(nil)

func (p *Publisher) postsTable() string    { return p.prefix + "posts" }
func (p *Publisher) postMetaTable() string { return p.prefix + "postmeta" }
func (p *Publisher) sectionsTable() string { return p.prefix + "mpcs_sections" }

// CreateCourse inserts the mpcs-course post
func (p *Publisher) CreateCourse(ctx context.Context, input services.CourseInput) (int64, error) {
	post := p.newPost(model.PostTypeCourse, input.Title, input.Description, input.AuthorID, 0)

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.insertPost(tx, &post); err != nil {
			return err
		}
		return p.addMeta(tx, post.ID, map[string]string{
			model.MetaCopilotSessionID:  input.SessionID,
			model.MetaCopilotGeneration: "1",
		})
	})
	if err != nil {
		return 0, fmt.Errorf("create course post: %w", err)
	}

	p.log.Debug("Course post created", "post_id", post.ID, "session_id", input.SessionID)
	return post.ID, nil
}

// CreateSection inserts a row into mpcs_sections
func (p *Publisher) CreateSection(ctx context.Context, input services.SectionInput) (int64, error) {
	section := model.MPCSSection{
		Title:        input.Title,
		Description:  input.Description,
		CourseID:     input.CourseID,
		SectionOrder: input.Order,
		CreatedAt:    p.now().UTC(),
		UUID:         uuid.NewString(),
	}
	if err := p.db.WithContext(ctx).Table(p.sectionsTable()).Create(&section).Error; err != nil {
		return 0, fmt.Errorf("create section: %w", err)
	}
	return section.ID, nil
}

// CreateLesson inserts the mpcs-lesson post and its section/order meta
func (p *Publisher) CreateLesson(ctx context.Context, input services.LessonInput) (int64, error) {
	post := p.newPost(model.PostTypeLesson, input.Title, input.Content, input.AuthorID, input.Order)

	meta := map[string]string{
		model.MetaLessonSectionID:   strconv.FormatInt(input.SectionID, 10),
		model.MetaLessonOrder:       strconv.Itoa(input.Order),
		model.MetaCopilotGeneration: "1",
	}
	if input.DurationMinutes != nil {
		meta[model.MetaLessonDuration] = strconv.Itoa(*input.DurationMinutes)
	}

	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := p.insertPost(tx, &post); err != nil {
			return err
		}
		return p.addMeta(tx, post.ID, meta)
	})
	if err != nil {
		return 0, fmt.Errorf("create lesson post: %w", err)
	}
	return post.ID, nil
}

func (p *Publisher) newPost(postType, title, content string, authorID uint, menuOrder int) model.WPPost {
	now := p.now()
	return model.WPPost{
		PostAuthor:      int64(authorID),
		PostDate:        now,
		PostDateGmt:     now.UTC(),
		PostContent:     content,
		PostTitle:       title,
		PostExcerpt:     Excerpt(content, excerptWords),
		PostStatus:      postStatusDraft,
		CommentStatus:   "closed",
		PingStatus:      "closed",
		PostName:        Slugify(title),
		PostModified:    now,
		PostModifiedGmt: now.UTC(),
		MenuOrder:       menuOrder,
		PostType:        postType,
	}
}

// insertPost stores post with a post_name no other post of its type uses,
// suffixing -2, -3 and so on the way WordPress does. Titles that slugify to
// nothing keep an empty post_name, which WordPress allows for drafts.
func (p *Publisher) insertPost(tx *gorm.DB, post *model.WPPost) error {
	if post.PostName != "" {
		var taken []string
		err := tx.Table(p.postsTable()).
			Where("post_type = ? AND (post_name = ? OR post_name LIKE ?)", post.PostType, post.PostName, post.PostName+"-%").
			Pluck("post_name", &taken).Error
		if err != nil {
			return err
		}
		post.PostName = uniqueSlug(post.PostName, taken)
	}
	return tx.Table(p.postsTable()).Create(post).Error
}

func uniqueSlug(base string, taken []string) string {
	used := make(map[string]bool, len(taken))
	for _, name := range taken {
		used[name] = true
	}
	slug := base
	for n := 2; used[slug]; n++ {
		slug = base + "-" + strconv.Itoa(n)
	}
	return slug
}

func (p *Publisher) addMeta(tx *gorm.DB, postID int64, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	rows := make([]model.WPPostMeta, 0, len(meta))
	for key, value := range meta {
		rows = append(rows, model.WPPostMeta{PostID: postID, MetaKey: key, MetaValue: value})
	}
	return tx.Table(p.postMetaTable()).Create(&rows).Error
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a title into a post_name
func Slugify(title string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > 190 {
		slug = strings.TrimRight(slug[:190], "-")
	}
	return slug
}

// Excerpt returns the first maxWords words of the visible text of an HTML body
func Excerpt(body string, maxWords int) string {
	if strings.TrimSpace(body) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return ""
	}

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(words) > maxWords {
			return
		}
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			words = append(words, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + " [&hellip;]"
	}
	return strings.Join(words, " ")
}
