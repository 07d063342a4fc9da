package household

import (
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage Storage
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "captures"))
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Save", func() {
		var (
			filename  string
			data      []byte
			savedName string
			err       error
		)

		BeforeEach(func() {
			filename = "test.jpg"
			data = []byte("test file content")
		})

		JustBeforeEach(func() {
			savedName, err = storage.Save(filename, data)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return the stored name", func() {
				Expect(savedName).To(Equal(filename))
			})

			It("should write the file inside the capture directory", func() {
				content, readErr := os.ReadFile(filepath.Join(tmpDir, "captures", filename))
				Expect(readErr).NotTo(HaveOccurred())
				Expect(content).To(Equal(data))
			})
		})

		When("the name tries to escape the directory", func() {
			BeforeEach(func() {
				filename = "../../etc/passwd"
			})

			It("keeps the file inside the capture directory", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(savedName).To(Equal("passwd"))
				_, statErr := os.Stat(filepath.Join(tmpDir, "captures", "passwd"))
				Expect(statErr).NotTo(HaveOccurred())
			})
		})

		When("the name is empty", func() {
			BeforeEach(func() {
				filename = ""
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Get and Delete", func() {
		BeforeEach(func() {
			_, err := storage.Save("capture.png", []byte("png"))
			Expect(err).NotTo(HaveOccurred())
		})

		It("reads the capture back", func() {
			data, err := storage.Get("capture.png")
			Expect(err).NotTo(HaveOccurred())
			Expect(data).To(Equal([]byte("png")))
		})

		It("removes the capture", func() {
			Expect(storage.Delete("capture.png")).To(Succeed())
			_, err := storage.Get("capture.png")
			Expect(err).To(HaveOccurred())
		})

		It("fails to delete a missing capture", func() {
			Expect(storage.Delete("missing.png")).NotTo(Succeed())
		})
	})
})

var _ = DescribeTable("captureName",
	func(filename, expected string) {
		Expect(captureName("id", filename)).To(Equal(expected))
	},
	Entry("keeps simple names", "receipt.jpg", "id_receipt.jpg"),
	Entry("lowercases the extension", "IMG_0042.HEIC", "id_IMG_0042.heic"),
	Entry("strips spaces and punctuation", "my receipt (1).png", "id_myreceipt1.png"),
	Entry("drops directories", "/tmp/uploads/scan.pdf", "id_scan.pdf"),
	Entry("falls back when nothing is left", "???.jpg", "id_capture.jpg"),
	Entry("truncates long names", strings.Repeat("a", 60)+".jpg", "id_"+strings.Repeat("a", 40)+".jpg"),
	Entry("drops odd extensions", "scan.tar gz", "id_scan"),
)
