package model

import "time"

// MemberPress Courses post types and meta keys
const (
	PostTypeCourse = "mpcs-course"
	PostTypeLesson = "mpcs-lesson"

	MetaLessonSectionID   = "_mpcs_lesson_section_id"
	MetaLessonOrder       = "_mpcs_lesson_lesson_order"
	MetaLessonDuration    = "_mpcc_lesson_duration"
	MetaCopilotSessionID  = "_mpcc_copilot_session_id"
	MetaCopilotGeneration = "_mpcc_generated_by_copilot"
)

// WPPost maps the columns of {prefix}posts the publisher writes. The table
// name carries the site's prefix, so callers always go through db.Table.
type WPPost struct {
	ID                  int64     `gorm:"column:ID;primaryKey;autoIncrement"`
	PostAuthor          int64     `gorm:"column:post_author"`
	PostDate            time.Time `gorm:"column:post_date"`
	PostDateGmt         time.Time `gorm:"column:post_date_gmt"`
	PostContent         string    `gorm:"column:post_content;type:longtext"`
	PostTitle           string    `gorm:"column:post_title;type:text"`
	PostExcerpt         string    `gorm:"column:post_excerpt;type:text"`
	PostStatus          string    `gorm:"column:post_status;type:varchar(20)"`
	CommentStatus       string    `gorm:"column:comment_status;type:varchar(20)"`
	PingStatus          string    `gorm:"column:ping_status;type:varchar(20)"`
	PostName            string    `gorm:"column:post_name;type:varchar(200)"`
	ToPing              string    `gorm:"column:to_ping;type:text"`
	Pinged              string    `gorm:"column:pinged;type:text"`
	PostModified        time.Time `gorm:"column:post_modified"`
	PostModifiedGmt     time.Time `gorm:"column:post_modified_gmt"`
	PostContentFiltered string    `gorm:"column:post_content_filtered;type:longtext"`
	PostParent          int64     `gorm:"column:post_parent"`
	GUID                string    `gorm:"column:guid;type:varchar(255)"`
	MenuOrder           int       `gorm:"column:menu_order"`
	PostType            string    `gorm:"column:post_type;type:varchar(20)"`
}

// WPPostMeta maps {prefix}postmeta
type WPPostMeta struct {
	MetaID    int64  `gorm:"column:meta_id;primaryKey;autoIncrement"`
	PostID    int64  `gorm:"column:post_id;index"`
	MetaKey   string `gorm:"column:meta_key;type:varchar(255)"`
	MetaValue string `gorm:"column:meta_value;type:longtext"`
}

// MPCSSection maps {prefix}mpcs_sections, the MemberPress Courses section table
type MPCSSection struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Title        string    `gorm:"column:title;type:text"`
	Description  string    `gorm:"column:description;type:longtext"`
	CourseID     int64     `gorm:"column:course_id;index"`
	SectionOrder int       `gorm:"column:section_order"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UUID         string    `gorm:"column:uuid;type:varchar(40)"`
}
