package echoapi

import (
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

type (
	quizApi struct {
		svc            quiz.Service
		maxUploadBytes int64
	}

	DestroyMultipleRequest struct {
		IDs []string `query:"id"`
	}

	ExtendRequest struct {
		Count int `json:"count"`
	}

	ReorderRequest struct {
		IDs []string `json:"ids"`
	}

	GoogleFormsRequest struct {
		AccessToken string `json:"access_token"`
	}
)

func registerQuizAPI(g *echo.Group, auth, limit echo.MiddlewareFunc, deps Deps, maxUploadBytes int64) {
	api := quizApi{svc: deps.QuizSvc, maxUploadBytes: maxUploadBytes}

	qg := g.Group("/quizzes", auth)
	qg.GET("", api.query)
	qg.POST("", api.create, limit)
	qg.POST("/document", api.createFromDocument, limit)
	qg.DELETE("", api.destroyMultiple)

	// detail endpoints
	dg := qg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/regenerate", api.regenerate, limit)
	dg.POST("/extend", api.extend, limit)
	dg.POST("/questions", api.addQuestion)
	dg.PUT("/questions/:qid", api.updateQuestion)
	dg.DELETE("/questions/:qid", api.destroyQuestion)
	dg.PUT("/questions-order", api.reorderQuestions)
	dg.POST("/share", api.share)
	dg.DELETE("/share", api.unshare)
	dg.GET("/export", api.export)
	dg.POST("/export/google-forms", api.exportGoogleForm)
	dg.POST("/export/email", api.emailExport)
}

func ownerID(ctx echo.Context) (string, error) {
	usr, err := getContextUser(ctx)
	if err != nil {
		return "", err
	}
	return usr.ID, nil
}

// Handlers

func (api *quizApi) query(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	filter, ordering, err := bindQuizQuery(ctx)
	if err != nil {
		return err
	}

	quizzes, err := api.svc.Query(ctx.Request().Context(), uid, filter, ordering)
	if err != nil {
		return errors.Wrap(err, "querying quizzes")
	}
	return ctx.JSON(http.StatusOK, quizzes)
}

func (api *quizApi) create(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data quiz.NewQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	data.Document = nil // documents are only accepted through /document

	qz, err := api.svc.Create(ctx.Request().Context(), uid, data)
	if err != nil {
		return errors.Wrap(err, "creating quiz")
	}
	return ctx.JSON(http.StatusAccepted, qz)
}

func (api *quizApi) createFromDocument(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data quiz.NewQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuiz")
	}
	data.SourceKind = quiz.SourceDocument

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewFieldError("document", "a file is required")
	}
	if api.maxUploadBytes > 0 && fh.Size > api.maxUploadBytes {
		return core.NewFieldError("document", "the file is too large")
	}
	f, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening uploaded file")
	}
	defer f.Close()
	body, err := io.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "reading uploaded file")
	}
	data.Document = &quiz.Document{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        body,
	}

	qz, err := api.svc.Create(ctx.Request().Context(), uid, data)
	if err != nil {
		return errors.Wrap(err, "creating quiz from document")
	}
	return ctx.JSON(http.StatusAccepted, qz)
}

func (api *quizApi) retrieve(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.Get(ctx.Request().Context(), uid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) update(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data quiz.UpdateQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateQuiz")
	}
	qz, err := api.svc.Update(ctx.Request().Context(), uid, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) destroy(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	if _, err = api.svc.Get(ctx.Request().Context(), uid, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "getting quiz")
	}
	if err = api.svc.Delete(ctx.Request().Context(), uid, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting quiz")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) destroyMultiple(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var query DestroyMultipleRequest
	if err = ctx.Bind(&query); err != nil {
		return errors.Wrap(err, "binding to DestroyMultipleRequest")
	}
	if len(query.IDs) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}
	if err = api.svc.Delete(ctx.Request().Context(), uid, query.IDs...); err != nil {
		return errors.Wrap(err, "deleting quizzes")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) regenerate(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.Regenerate(ctx.Request().Context(), uid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "regenerating quiz")
	}
	return ctx.JSON(http.StatusAccepted, qz)
}

func (api *quizApi) extend(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data ExtendRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ExtendRequest")
	}
	qz, err := api.svc.Extend(ctx.Request().Context(), uid, ctx.Param("id"), data.Count)
	if err != nil {
		return errors.Wrap(err, "extending quiz")
	}
	return ctx.JSON(http.StatusAccepted, qz)
}

func (api *quizApi) addQuestion(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data quiz.NewQuestion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	q, err := api.svc.AddQuestion(ctx.Request().Context(), uid, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding question")
	}
	return ctx.JSON(http.StatusCreated, q)
}

func (api *quizApi) updateQuestion(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data quiz.NewQuestion
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewQuestion")
	}
	q, err := api.svc.UpdateQuestion(ctx.Request().Context(), uid, ctx.Param("id"), ctx.Param("qid"), data)
	if err != nil {
		return errors.Wrap(err, "updating question")
	}
	return ctx.JSON(http.StatusOK, q)
}

func (api *quizApi) destroyQuestion(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteQuestion(ctx.Request().Context(), uid, ctx.Param("id"), ctx.Param("qid")); err != nil {
		return errors.Wrap(err, "deleting question")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *quizApi) reorderQuestions(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data ReorderRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReorderRequest")
	}
	qz, err := api.svc.ReorderQuestions(ctx.Request().Context(), uid, ctx.Param("id"), data.IDs)
	if err != nil {
		return errors.Wrap(err, "reordering questions")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) share(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data quiz.ShareQuiz
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ShareQuiz")
	}
	qz, err := api.svc.Share(ctx.Request().Context(), uid, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "sharing quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) unshare(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	qz, err := api.svc.Unshare(ctx.Request().Context(), uid, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "unsharing quiz")
	}
	return ctx.JSON(http.StatusOK, qz)
}

func (api *quizApi) export(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	file, err := api.svc.Export(ctx.Request().Context(), uid, ctx.Param("id"), ctx.QueryParam("format"))
	if err != nil {
		return errors.Wrap(err, "exporting quiz")
	}
	ctx.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+strconv.Quote(file.Filename))
	return ctx.Blob(http.StatusOK, file.ContentType, file.Data)
}

func (api *quizApi) exportGoogleForm(ctx echo.Context) error {
	uid, err := ownerID(ctx)
	if err != nil {
		return err
	}
	var data GoogleFormsRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to GoogleFormsRequest")
	}
	url, err := api.svc.ExportGoogleForm(ctx.Request().Context(), uid, ctx.Param("id"), data.AccessToken)
	if err != nil {
		return errors.Wrap(err, "exporting quiz to google forms")
	}
	return ctx.JSON(http.StatusOK, RedirectResponse{URL: url})
}

func (api *quizApi) emailExport(ctx echo.Context) error {
	usr, err := getContextUser(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.EmailExport(ctx.Request().Context(), usr, ctx.Param("id"), ctx.QueryParam("format")); err != nil {
		return errors.Wrap(err, "emailing quiz export")
	}
	return ctx.NoContent(http.StatusAccepted)
}
