package storage

import (
	"fmt"
	"strings"
)

// ProductImagePath composes the bucket key for a product image upload.
// Each upload gets its own segment so re-uploads never clobber a previous
// image that might still be referenced by a cached page.
func ProductImagePath(productID, uploadID, fileName string) (string, error) {
	productID, err := cleanSegment("productID", productID)
	if err != nil {
		return "", err
	}
	uploadID, err = cleanSegment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	fileName, err = cleanSegment("fileName", fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("assets/products/%s/images/%s/%s", productID, uploadID, fileName), nil
}

func cleanSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
