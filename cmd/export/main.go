package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	// 定义命令行参数
	server := flag.String("server", "http://localhost:8080", "VoiceTrace 服务器地址")
	analysisID := flag.String("analysis", "", "分析结果 ID")
	format := flag.String("format", "md", "导出格式（txt / md / json）")
	out := flag.String("out", "", "输出文件路径（默认输出到终端）")
	flag.Parse()

	// 检查参数
	if *analysisID == "" {
		fmt.Println("❌ 错误：请提供分析结果 ID")
		fmt.Println("\n使用方法：")
		fmt.Println("  go run cmd/export/main.go -analysis=ANALYSIS_ID -format=md -out=transcript.md")
		fmt.Println("\n分析结果 ID 获取方式：")
		fmt.Println("  任务完成后 GET /api/jobs/{job_id} 返回的 analysis_id 字段")
		os.Exit(1)
	}

	// 请求导出接口
	exportURL := fmt.Sprintf("%s/api/analyses/%s/export?format=%s",
		*server, url.PathEscape(*analysisID), url.QueryEscape(*format))

	fmt.Printf("🔍 正在导出分析结果 %s（格式 %s）...\n", *analysisID, *format)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(exportURL)
	if err != nil {
		fmt.Printf("❌ 请求失败: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("❌ 读取响应失败: %v\n", err)
		os.Exit(1)
	}

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("❌ 导出失败 (HTTP %d): %s\n", resp.StatusCode, string(body))
		os.Exit(1)
	}

	// 写入文件或输出到终端
	if *out == "" {
		fmt.Println(string(body))
		return
	}

	if err := os.WriteFile(*out, body, 0644); err != nil {
		fmt.Printf("❌ 写入文件失败: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✅ 已导出到 %s（%d 字节）\n", *out, len(body))
}
