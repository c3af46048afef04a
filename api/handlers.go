package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"task-pilot-server/domain"
)

const taskBodyMaxSize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc TaskService, broker *Broker, logger *log.Logger) {
	e.GET("/", ready)
	e.GET("/task", getTasks(svc, logger))
	e.GET("/tasks/:email", getTasksByOwner(svc, logger))
	e.POST("/tasks", postTask(svc))
	e.PUT("/tasks/:id", putTask(svc))
	e.DELETE("/tasks/:id", deleteTask(svc))
	e.GET("/events", streamEvents(broker))
}

func ready(c echo.Context) error {
	return c.String(http.StatusOK, "Task management system is ready!")
}

func listTasks(svc TaskService, logger *log.Logger, route string, email func(echo.Context) string) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics := newListRequestMetrics(logger, route)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		fetchStart := time.Now()
		tasks, fetchErr := svc.List(ctx, email(c))
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.JSON(http.StatusInternalServerError, messageResponse{Message: "Error fetching tasks"})
			return err
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, tasks)
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func getTasks(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return listTasks(svc, logger, "/task", func(echo.Context) string { return "" })
}

func getTasksByOwner(svc TaskService, logger *log.Logger) echo.HandlerFunc {
	return listTasks(svc, logger, "/tasks/:email", func(c echo.Context) string { return c.Param("email") })
}

func postTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		lr := io.LimitReader(c.Request().Body, taskBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		var t domain.Task
		if err := dec.Decode(&t); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}
		// The store owns id and order; anything the client sent is discarded.
		t.ID = ""
		t.Order = 0

		stored, err := svc.Create(ctx, t)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyCategory) {
				return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
			}
			c.Logger().Errorf("post task: %v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to post task"})
		}
		return c.JSON(http.StatusOK, insertResponse{Acknowledged: true, InsertedID: stored.ID})
	}
}

func putTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		lr := io.LimitReader(c.Request().Body, taskBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		var upd domain.TaskUpdate
		if err := dec.Decode(&upd); err != nil {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid body"})
		}

		if err := svc.Update(ctx, c.Param("id"), upd); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return c.JSON(http.StatusNotFound, errorResponse{Error: "Task not found or no changes applied"})
			}
			c.Logger().Errorf("update task: %v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to update task"})
		}
		return c.JSON(http.StatusOK, messageResponse{Message: "Task updated successfully"})
	}
}

func deleteTask(svc TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		removed, err := svc.Delete(ctx, c.Param("id"))
		if err != nil {
			c.Logger().Errorf("delete task: %v", err)
			return c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to delete task"})
		}
		count := 0
		if removed {
			count = 1
		}
		return c.JSON(http.StatusOK, deleteResponse{Acknowledged: true, DeletedCount: count})
	}
}
