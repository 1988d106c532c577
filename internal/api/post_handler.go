package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"jobhive/internal/api/middleware"
	"jobhive/internal/database"
	"jobhive/internal/notify"
	"jobhive/internal/storage"
)

var validVisibilities = map[string]bool{
	database.VisibilityPublic:      true,
	database.VisibilityConnections: true,
	database.VisibilityPrivate:     true,
}

var validReactions = map[string]bool{
	database.ReactionLike:  true,
	database.ReactionShare: true,
	database.ReactionSave:  true,
}

// PostHandler 负责信息流：帖子、评论、点赞/转发/收藏开关与提及。
type PostHandler struct {
	db       *gorm.DB
	storage  objectStorage
	scanner  fileScanner
	notifier *notify.Dispatcher
	logger   *slog.Logger
}

// NewPostHandler 构造 PostHandler。
func NewPostHandler(db *gorm.DB, store objectStorage, scanner fileScanner, notifier *notify.Dispatcher, logger *slog.Logger) *PostHandler {
	return &PostHandler{db: db, storage: store, scanner: scanner, notifier: notifier, logger: logger}
}

type postTagRequest struct {
	TargetType string `json:"target_type" binding:"required,oneof=user company"`
	TargetID   uint   `json:"target_id" binding:"required"`
}

type createPostRequest struct {
	Content    string           `json:"content" binding:"required,max=5000"`
	Visibility string           `json:"visibility"`
	Tags       []postTagRequest `json:"tags" binding:"max=20"`
}

// CreatePost 发布帖子，可附带对用户/公司的提及。
func (h *PostHandler) CreatePost(c *gin.Context) {
	var req createPostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Visibility == "" {
		req.Visibility = database.VisibilityPublic
	}
	if !validVisibilities[req.Visibility] {
		BadRequest(c, "invalid visibility")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	ctx := c.Request.Context()
	post := database.Post{
		AuthorID:   userID,
		Content:    req.Content,
		Visibility: req.Visibility,
	}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		for _, tag := range req.Tags {
			record := database.PostTag{PostID: post.ID, TargetType: tag.TargetType, TargetID: tag.TargetID}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		Internal(c, "failed to create post")
		return
	}

	// 被提及的用户收到通知，提及公司不推送。
	for _, tag := range req.Tags {
		if tag.TargetType != "user" || tag.TargetID == userID {
			continue
		}
		if err := h.notifier.Send(ctx, tag.TargetID, notify.TypePostComment, post.ID,
			"You were mentioned in a post"); err != nil {
			middleware.LoggerFromContext(c).Error("notify post mention failed", slog.Any("error", err))
		}
	}

	c.JSON(http.StatusCreated, gin.H{"id": post.ID})
}

// UploadPostMedia 上传帖子附件，仅限作者。
func (h *PostHandler) UploadPostMedia(c *gin.Context) {
	post, userID, ok := h.postForAuthor(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}

	ctx := c.Request.Context()
	objectKey := storage.PostMediaKey(userID)
	if err := scanAndUpload(ctx, h.scanner, h.storage, file, objectKey); err != nil {
		if errors.Is(err, errMaliciousFile) {
			BadRequest(c, "malicious file detected")
			return
		}
		middleware.LoggerFromContext(c).Error("upload post media failed", slog.Any("error", err))
		BadGateway(c, "failed to store media")
		return
	}

	oldKey := post.MediaKey
	if err := h.db.WithContext(ctx).Model(post).Update("media_key", objectKey).Error; err != nil {
		Internal(c, "failed to save media reference")
		return
	}
	if oldKey != "" {
		if err := h.storage.DeleteObject(ctx, oldKey); err != nil {
			middleware.LoggerFromContext(c).Warn("delete old post media failed", slog.Any("error", err))
		}
	}
	c.JSON(http.StatusCreated, gin.H{"object_key": objectKey})
}

type updatePostRequest struct {
	Content    *string `json:"content"`
	Visibility *string `json:"visibility"`
}

// UpdatePost 编辑帖子内容或可见性，仅限作者。
func (h *PostHandler) UpdatePost(c *gin.Context) {
	var req updatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	post, _, ok := h.postForAuthor(c)
	if !ok {
		return
	}

	updates := map[string]any{}
	if req.Content != nil {
		updates["content"] = *req.Content
	}
	if req.Visibility != nil {
		if !validVisibilities[*req.Visibility] {
			BadRequest(c, "invalid visibility")
			return
		}
		updates["visibility"] = *req.Visibility
	}
	if len(updates) == 0 {
		BadRequest(c, "no fields to update")
		return
	}

	if err := h.db.WithContext(c.Request.Context()).Model(post).Updates(updates).Error; err != nil {
		Internal(c, "failed to update post")
		return
	}
	c.Status(http.StatusNoContent)
}

// DeletePost 软删除帖子及其提及，仅限作者。评论与反应保留在历史中。
func (h *PostHandler) DeletePost(c *gin.Context) {
	post, _, ok := h.postForAuthor(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("post_id = ?", post.ID).Delete(&database.PostTag{}).Error; err != nil {
			return err
		}
		return tx.Delete(post).Error
	})
	if err != nil {
		Internal(c, "failed to delete post")
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPost 返回帖子详情与计数。非公开帖子只有作者可见。
func (h *PostHandler) GetPost(c *gin.Context) {
	postID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid post id")
		return
	}

	ctx := c.Request.Context()
	var post database.Post
	if err := h.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "post not found")
			return
		}
		Internal(c, "failed to load post")
		return
	}

	userID, _ := userIDFromContext(c)
	if !h.postVisibleTo(post, userID) {
		NotFound(c, "post not found")
		return
	}

	item, err := h.postItem(c, post)
	if err != nil {
		Internal(c, "failed to load post counts")
		return
	}
	c.JSON(http.StatusOK, item)
}

// ListFeed 返回公开信息流，按时间倒序分页。
func (h *PostHandler) ListFeed(c *gin.Context) {
	page, pageSize := paginationParams(c)

	ctx := c.Request.Context()
	var posts []database.Post
	if err := h.db.WithContext(ctx).
		Where("visibility = ?", database.VisibilityPublic).
		Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&posts).Error; err != nil {
		Internal(c, "failed to list feed")
		return
	}

	items := make([]gin.H, 0, len(posts))
	for _, post := range posts {
		item, err := h.postItem(c, post)
		if err != nil {
			Internal(c, "failed to load post counts")
			return
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "page": page, "page_size": pageSize})
}

// ListUserPosts 列出某用户的帖子。他人只见公开帖，本人全量可见。
func (h *PostHandler) ListUserPosts(c *gin.Context) {
	authorID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	query := h.db.WithContext(ctx).Where("author_id = ?", authorID)
	if userID, ok := userIDFromContext(c); !ok || userID != authorID {
		query = query.Where("visibility = ?", database.VisibilityPublic)
	}

	var posts []database.Post
	if err := query.Order("created_at DESC").Find(&posts).Error; err != nil {
		Internal(c, "failed to list posts")
		return
	}

	items := make([]gin.H, 0, len(posts))
	for _, post := range posts {
		item, err := h.postItem(c, post)
		if err != nil {
			Internal(c, "failed to load post counts")
			return
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

type reactionRequest struct {
	Kind string `json:"kind" binding:"required"`
}

// ToggleReaction 切换点赞/转发/收藏。同一 (post, user, kind) 幂等开关。
func (h *PostHandler) ToggleReaction(c *gin.Context) {
	var req reactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if !validReactions[req.Kind] {
		BadRequest(c, "invalid reaction kind")
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	postID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid post id")
		return
	}

	ctx := c.Request.Context()
	var post database.Post
	if err := h.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "post not found")
			return
		}
		Internal(c, "failed to load post")
		return
	}
	if !h.postVisibleTo(post, userID) {
		NotFound(c, "post not found")
		return
	}

	var existing database.PostReaction
	err = h.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ? AND kind = ?", postID, userID, req.Kind).
		First(&existing).Error
	switch {
	case err == nil:
		// 物理删除，软删除行仍占用 (post, user, kind) 唯一索引。
		if err := h.db.WithContext(ctx).Unscoped().Delete(&existing).Error; err != nil {
			Internal(c, "failed to remove reaction")
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "active": false})
	case errors.Is(err, gorm.ErrRecordNotFound):
		record := database.PostReaction{PostID: postID, UserID: userID, Kind: req.Kind}
		if err := h.db.WithContext(ctx).Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				c.JSON(http.StatusOK, gin.H{"kind": req.Kind, "active": true})
				return
			}
			Internal(c, "failed to add reaction")
			return
		}
		if post.AuthorID != userID {
			if err := h.notifier.Send(ctx, post.AuthorID, notify.TypePostReaction, post.ID,
				fmt.Sprintf("Someone reacted (%s) to your post", req.Kind)); err != nil {
				middleware.LoggerFromContext(c).Error("notify post reaction failed", slog.Any("error", err))
			}
		}
		c.JSON(http.StatusCreated, gin.H{"kind": req.Kind, "active": true})
	default:
		Internal(c, "failed to load reaction")
	}
}

type createCommentRequest struct {
	Content string `json:"content" binding:"required,max=2000"`
}

// CreateComment 发表评论并通知作者。
func (h *PostHandler) CreateComment(c *gin.Context) {
	var req createCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	postID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid post id")
		return
	}

	ctx := c.Request.Context()
	var post database.Post
	if err := h.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "post not found")
			return
		}
		Internal(c, "failed to load post")
		return
	}
	if !h.postVisibleTo(post, userID) {
		NotFound(c, "post not found")
		return
	}

	comment := database.PostComment{PostID: postID, AuthorID: userID, Content: req.Content}
	if err := h.db.WithContext(ctx).Create(&comment).Error; err != nil {
		Internal(c, "failed to create comment")
		return
	}

	if post.AuthorID != userID {
		if err := h.notifier.Send(ctx, post.AuthorID, notify.TypePostComment, post.ID,
			"New comment on your post"); err != nil {
			middleware.LoggerFromContext(c).Error("notify post comment failed", slog.Any("error", err))
		}
	}
	c.JSON(http.StatusCreated, gin.H{"id": comment.ID})
}

// ListComments 列出帖子评论。
func (h *PostHandler) ListComments(c *gin.Context) {
	postID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid post id")
		return
	}

	ctx := c.Request.Context()
	var post database.Post
	if err := h.db.WithContext(ctx).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "post not found")
			return
		}
		Internal(c, "failed to load post")
		return
	}
	userID, _ := userIDFromContext(c)
	if !h.postVisibleTo(post, userID) {
		NotFound(c, "post not found")
		return
	}

	var comments []database.PostComment
	if err := h.db.WithContext(ctx).
		Where("post_id = ?", postID).
		Order("created_at ASC").
		Find(&comments).Error; err != nil {
		Internal(c, "failed to list comments")
		return
	}

	items := make([]gin.H, 0, len(comments))
	for _, comment := range comments {
		items = append(items, gin.H{
			"id":         comment.ID,
			"author_id":  comment.AuthorID,
			"content":    comment.Content,
			"created_at": comment.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// DeleteComment 删除评论，评论作者或帖子作者皆可。
func (h *PostHandler) DeleteComment(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	commentID, err := parseIDParam(c, "commentID")
	if err != nil {
		BadRequest(c, "invalid comment id")
		return
	}

	ctx := c.Request.Context()
	var comment database.PostComment
	if err := h.db.WithContext(ctx).First(&comment, commentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "comment not found")
			return
		}
		Internal(c, "failed to load comment")
		return
	}

	var post database.Post
	if err := h.db.WithContext(ctx).First(&post, comment.PostID).Error; err != nil {
		Internal(c, "failed to load post")
		return
	}
	if comment.AuthorID != userID && post.AuthorID != userID {
		Forbidden(c, "cannot delete this comment")
		return
	}

	if err := h.db.WithContext(ctx).Delete(&comment).Error; err != nil {
		Internal(c, "failed to delete comment")
		return
	}
	c.Status(http.StatusNoContent)
}

// postForAuthor 加载帖子并校验调用者是作者；失败时已写好响应。
func (h *PostHandler) postForAuthor(c *gin.Context) (*database.Post, uint, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, 0, false
	}

	postID, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid post id")
		return nil, 0, false
	}

	var post database.Post
	if err := h.db.WithContext(c.Request.Context()).First(&post, postID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "post not found")
			return nil, 0, false
		}
		Internal(c, "failed to load post")
		return nil, 0, false
	}
	if post.AuthorID != userID {
		Forbidden(c, "not the post author")
		return nil, 0, false
	}
	return &post, userID, true
}

// postVisibleTo 判断帖子对用户是否可见。
// connections 粒度未建模好友关系，按登录可见处理。
func (h *PostHandler) postVisibleTo(post database.Post, userID uint) bool {
	switch post.Visibility {
	case database.VisibilityPublic:
		return true
	case database.VisibilityConnections:
		return userID != 0
	default:
		return post.AuthorID == userID && userID != 0
	}
}

// postItem 组装帖子响应：正文、媒体链接、各类计数。
func (h *PostHandler) postItem(c *gin.Context, post database.Post) (gin.H, error) {
	ctx := c.Request.Context()

	counts := map[string]int64{}
	for _, kind := range []string{database.ReactionLike, database.ReactionShare, database.ReactionSave} {
		var n int64
		if err := h.db.WithContext(ctx).Model(&database.PostReaction{}).
			Where("post_id = ? AND kind = ?", post.ID, kind).
			Count(&n).Error; err != nil {
			return nil, err
		}
		counts[kind] = n
	}

	var commentCount int64
	if err := h.db.WithContext(ctx).Model(&database.PostComment{}).
		Where("post_id = ?", post.ID).
		Count(&commentCount).Error; err != nil {
		return nil, err
	}

	item := gin.H{
		"id":         post.ID,
		"author_id":  post.AuthorID,
		"content":    post.Content,
		"visibility": post.Visibility,
		"created_at": post.CreatedAt,
		"likes":      counts[database.ReactionLike],
		"shares":     counts[database.ReactionShare],
		"saves":      counts[database.ReactionSave],
		"comments":   commentCount,
	}
	if post.MediaKey != "" {
		if url, err := h.storage.GeneratePresignedURL(ctx, post.MediaKey, 10*time.Minute); err == nil {
			item["media_url"] = url
		}
	}
	return item, nil
}
