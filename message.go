package main

import "fmt"

const (
	MsgModelUnavailable = "Image classification is not available because the service was started without a detection model. Set MODEL_PATH to enable it, or post detections computed elsewhere to /sessions/{id}/detections."

	MsgSessionNotFound = "This camera session has ended or was idle for too long. Start a new session to keep classifying."

	MsgInvalidImage = "We couldn't read that image. Please send a clear JPEG, PNG, BMP or WebP photo of the waste items."

	MsgInvalidDetections = "The detections payload could not be read. Send {\"detections\": [{\"label\", \"confidence\", \"bounding_box\"}]}."

	MsgInvalidThreshold = "The confidence threshold must be a number between 0 and 1."

	MsgProcessingFailed = "Something went wrong while analyzing the image. Please try again."

	MsgModelBusy = "The classifier is busy right now. Please try again in a moment."

	MsgRequestCanceled = "The request was canceled before the image was analyzed."
)

func resultMessage(count int) string {
	switch {
	case count == 0:
		return "No waste items detected"
	case count == 1:
		return "1 waste item detected"
	default:
		return fmt.Sprintf("%d waste items detected", count)
	}
}
